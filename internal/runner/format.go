package runner

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultReplyMaxChars bounds the answer text relayed for one job
	DefaultReplyMaxChars = 12000
	// DefaultChunkSize is the largest single message sent to the chat
	DefaultChunkSize = 3500

	stderrTailChars = 1500
)

// ReplyContext carries what FormatReply needs beyond the Result.
type ReplyContext struct {
	JobID    int64
	Stopped  bool
	Timeout  time.Duration
	MaxChars int
}

// FormatReply turns a finished run into the text sent back to the chat.
// A timed out run never reports its output as an answer.
func FormatReply(res *Result, rc ReplyContext) string {
	switch {
	case rc.Stopped:
		return fmt.Sprintf("Job #%d stopped.", rc.JobID)
	case res == nil:
		return fmt.Sprintf("Job #%d failed: no result.", rc.JobID)
	case res.TimedOut:
		return fmt.Sprintf("Job #%d timed out after %s.", rc.JobID, formatDuration(rc.Timeout))
	case res.ExitCode != 0:
		head := fmt.Sprintf("Job #%d failed (exit %d", rc.JobID, res.ExitCode)
		if res.Signal != "" {
			head += ", " + res.Signal
		}
		head += ")."
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		if detail == "" {
			return head
		}
		return head + "\n" + tail(detail, stderrTailChars)
	case strings.TrimSpace(res.Output) == "":
		return fmt.Sprintf("Job #%d finished with no output.", rc.JobID)
	default:
		max := rc.MaxChars
		if max <= 0 {
			max = DefaultReplyMaxChars
		}
		return fmt.Sprintf("Job #%d done in %s.\n\n%s", rc.JobID, formatDuration(res.Elapsed), Truncate(res.Output, max))
	}
}

// Truncate cuts text to max runes and appends a marker naming how much
// was dropped.
func Truncate(text string, max int) string {
	n := utf8.RuneCountInString(text)
	if max <= 0 || n <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + fmt.Sprintf("\n\n[…truncated %d chars]", n-max)
}

// SplitChunks splits text into pieces of at most size runes, breaking on
// line boundaries. Lines longer than size are hard-split.
func SplitChunks(text string, size int) []string {
	if size <= 0 || utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		if lineLen > size {
			flush()
			runes := []rune(line)
			for len(runes) > size {
				chunks = append(chunks, string(runes[:size]))
				runes = runes[size:]
			}
			cur.WriteString(string(runes))
			curLen = len(runes)
			continue
		}

		need := lineLen
		if curLen > 0 {
			need++ // newline
		}
		if curLen+need > size {
			flush()
			need = lineLen
		}
		if curLen > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
		curLen += need
	}
	flush()
	return chunks
}

// tail returns the last max runes of text.
func tail(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return "…" + string(runes[len(runes)-max:])
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
