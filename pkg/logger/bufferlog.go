// Package logger implements a per-job in-memory log buffer for imports.
//
// While a job runs, detail lines go into its buffer. If the job fails the
// buffer is replayed followed by the error; if it succeeds the buffer is
// dropped and a single summary line is printed.
//
// A dedicated goroutine owns the buffers and is fed through a command
// channel, so there are no mutexes.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"strings"
	"time"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
	actSetOutput
	actSync
)

type cmd struct {
	act     action
	jobID   string
	message string    // Append
	summary string    // Success
	err     error     // FlushErr
	out     io.Writer // SetOutput
	done    chan struct{}
	when    time.Time
}

var ch = make(chan cmd, 128)

// Begin starts buffering for jobID.
func Begin(jobID string) { ch <- cmd{act: actBegin, jobID: jobID, when: time.Now()} }

// Append adds one detail line.
func Append(jobID, msg string) {
	ch <- cmd{act: actAppend, jobID: jobID, message: msg, when: time.Now()}
}

// Appendf is Append with formatting.
func Appendf(jobID, format string, args ...any) {
	Append(jobID, fmt.Sprintf(format, args...))
}

// Success drops the buffer and prints one summary line.
func Success(jobID, summary string) {
	ch <- cmd{act: actSuccess, jobID: jobID, summary: summary, when: time.Now()}
}

// FlushError prints the buffered lines and then the final error.
func FlushError(jobID string, err error) {
	ch <- cmd{act: actFlushErr, jobID: jobID, err: err, when: time.Now()}
}

// SetOutput redirects everything the logger prints. nil restores the
// standard logger's output.
func SetOutput(w io.Writer) {
	done := make(chan struct{})
	ch <- cmd{act: actSetOutput, out: w, done: done}
	<-done
}

// Sync blocks until every command sent before it has been handled.
func Sync() {
	done := make(chan struct{})
	ch <- cmd{act: actSync, done: done}
	<-done
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)
	out := log.New(log.Writer(), "", log.LstdFlags)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.jobID] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.jobID]; b != nil {
				fmt.Fprintf(b, "[%s][import] %s %s\n", shortID(c.jobID), c.when.Format("15:04:05.000"), c.message)
			} else {
				out.Print(c.message) // no buffer: print immediately
			}

		case actSuccess:
			out.Printf("[%s][import] ✔ %s", shortID(c.jobID), c.summary)
			delete(buffers, c.jobID)

		case actFlushErr:
			if b := buffers[c.jobID]; b != nil {
				for _, ln := range strings.Split(strings.TrimRight(b.String(), "\n"), "\n") {
					if ln != "" {
						out.Print(ln)
					}
				}
				delete(buffers, c.jobID)
			}
			out.Printf("[%s][ERROR] %v", shortID(c.jobID), c.err)

		case actSetOutput:
			if c.out == nil {
				out.SetOutput(log.Writer())
			} else {
				out.SetOutput(c.out)
			}
			close(c.done)

		case actSync:
			close(c.done)
		}
	}
}

// shortID keeps log lines narrow; uuids are unique in their first 8 chars
// for any realistic number of concurrent jobs.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
