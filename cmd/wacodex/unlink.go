package main

import (
	"context"
	"fmt"

	"github.com/roelfdiedericks/wacodex/internal/channels/whatsapp"
	. "github.com/roelfdiedericks/wacodex/internal/logging"
)

type UnlinkCmd struct{}

func (u *UnlinkCmd) Run(g *Globals) error {
	dbPath, err := whatsapp.DefaultDBPath()
	if err != nil {
		return err
	}
	if !whatsapp.StoreExists(dbPath) {
		fmt.Println("No WhatsApp device stored.")
		return nil
	}

	ctx := context.Background()
	devices, err := whatsapp.OpenStore(ctx, dbPath)
	if err != nil {
		return err
	}
	defer devices.Close()

	n, err := devices.Unlink(ctx)
	if err != nil {
		return err
	}
	L_debug("whatsapp: devices removed", "count", n, "db", dbPath)
	fmt.Printf("Removed %d device(s). Run wacodex again to pair.\n", n)
	return nil
}
