package bot

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

var reqSeq atomic.Uint64

// newReqID returns a short token tying one request's log lines together.
func newReqID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(reqSeq.Add(1), 36)
}

// tokenizeCommandLine splits a command message into words. Single or double
// quotes group words and a backslash escapes the next character:
//
//	/deletetask "2"
func tokenizeCommandLine(s string) []string {
	var (
		out    []string
		word   strings.Builder
		quote  rune
		escape bool
	)
	flush := func() {
		if word.Len() > 0 {
			out = append(out, word.String())
			word.Reset()
		}
	}
	for _, r := range s {
		switch {
		case escape:
			word.WriteRune(r)
			escape = false
		case r == '\\':
			escape = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				word.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
		case unicode.IsSpace(r):
			flush()
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return out
}

// commandWord extracts "cmd" from "/cmd@SomeBot".
func commandWord(tok string) string {
	w, _, _ := strings.Cut(strings.TrimPrefix(tok, "/"), "@")
	return strings.ToLower(w)
}
