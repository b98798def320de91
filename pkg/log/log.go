// Package log provides sensocto's leveled logging. It mirrors the
// teacher's pkg/log approach (a package-level writer and *log.Logger
// per severity, gated by a level threshold) but sensocto's config
// exposes a single LogDateTime bool rather than a separate flag per
// call site, so there is exactly one *log.Logger per level instead of
// a Time/NoTime pair of each: SetLogDateTime flips every level's
// logger flags in place via log.Logger.SetFlags instead of switching
// between two pre-built loggers at every call.
//
// Time/Date are left off by default because systemd adds them for us;
// SetLogDateTime(true) turns them back on for non-systemd deployments.
//
// Prefixes follow the syslog priority convention systemd expects:
// https://www.freedesktop.org/software/systemd/man/sd-daemon.html
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

var logDateTime bool

var (
	DebugWriter io.Writer = os.Stderr
	NoteWriter  io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
	CritWriter  io.Writer = os.Stderr
)

var (
	DebugPrefix string = "<7>[DEBUG]    "
	InfoPrefix  string = "<6>[INFO]     "
	NotePrefix  string = "<5>[NOTICE]   "
	WarnPrefix  string = "<4>[WARNING]  "
	ErrPrefix   string = "<3>[ERROR]    "
	CritPrefix  string = "<2>[CRITICAL] "
)

var (
	DebugLog *log.Logger = log.New(DebugWriter, DebugPrefix, 0)
	InfoLog  *log.Logger = log.New(InfoWriter, InfoPrefix, 0)
	NoteLog  *log.Logger = log.New(NoteWriter, NotePrefix, log.Lshortfile)
	WarnLog  *log.Logger = log.New(WarnWriter, WarnPrefix, log.Lshortfile)
	ErrLog   *log.Logger = log.New(ErrWriter, ErrPrefix, log.Llongfile)
	CritLog  *log.Logger = log.New(CritWriter, CritPrefix, log.Llongfile)
)

// baseFlags holds the flags each logger above was constructed with, so
// SetLogDateTime can fold log.LstdFlags in and out without forgetting
// each level's own Lshortfile/Llongfile setting.
var baseFlags = map[*log.Logger]int{
	DebugLog: 0,
	InfoLog:  0,
	NoteLog:  log.Lshortfile,
	WarnLog:  log.Lshortfile,
	ErrLog:   log.Llongfile,
	CritLog:  log.Llongfile,
}

/* CONFIG */

func SetLevel(lvl string) {
	switch lvl {
	case "crit":
		ErrWriter = io.Discard
		fallthrough
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		InfoWriter = io.Discard
		fallthrough
	case "notice":
		NoteWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
	case "debug":
		// Nothing to do...
	default:
		fmt.Printf("log: flag 'loglevel' has invalid value %#v, using 'info'\n", lvl)
		SetLevel("info")
	}
}

// SetLogDateTime toggles the standard date/time prefix on every
// level's logger in place, rather than switching between a parallel
// set of Time/NoTime logger instances.
func SetLogDateTime(logdate bool) {
	logDateTime = logdate
	for logger, flags := range baseFlags {
		if logdate {
			logger.SetFlags(flags | log.LstdFlags)
		} else {
			logger.SetFlags(flags)
		}
	}
}

/* PRINT */

func printStr(v ...interface{}) string {
	return fmt.Sprint(v...)
}

func Print(v ...interface{}) {
	Info(v...)
}

func Debug(v ...interface{}) {
	if DebugWriter != io.Discard {
		DebugLog.Output(2, printStr(v...))
	}
}

func Info(v ...interface{}) {
	if InfoWriter != io.Discard {
		InfoLog.Output(2, printStr(v...))
	}
}

func Note(v ...interface{}) {
	if NoteWriter != io.Discard {
		NoteLog.Output(2, printStr(v...))
	}
}

func Warn(v ...interface{}) {
	if WarnWriter != io.Discard {
		WarnLog.Output(2, printStr(v...))
	}
}

func Error(v ...interface{}) {
	if ErrWriter != io.Discard {
		ErrLog.Output(2, printStr(v...))
	}
}

// Panic writes an error log entry and then panics, keeping the process alive
// only if the caller recovers.
func Panic(v ...interface{}) {
	Error(v...)
	panic("panic triggered by log.Panic")
}

// Fatal writes an error log entry and terminates the process.
func Fatal(v ...interface{}) {
	Error(v...)
	os.Exit(1)
}

func Crit(v ...interface{}) {
	if CritWriter != io.Discard {
		CritLog.Output(2, printStr(v...))
	}
}

/* PRINT FORMAT */

func printfStr(format string, v ...interface{}) string {
	return fmt.Sprintf(format, v...)
}

func Printf(format string, v ...interface{}) {
	Infof(format, v...)
}

func Debugf(format string, v ...interface{}) {
	if DebugWriter != io.Discard {
		DebugLog.Output(2, printfStr(format, v...))
	}
}

func Infof(format string, v ...interface{}) {
	if InfoWriter != io.Discard {
		InfoLog.Output(2, printfStr(format, v...))
	}
}

func Notef(format string, v ...interface{}) {
	if NoteWriter != io.Discard {
		NoteLog.Output(2, printfStr(format, v...))
	}
}

func Warnf(format string, v ...interface{}) {
	if WarnWriter != io.Discard {
		WarnLog.Output(2, printfStr(format, v...))
	}
}

func Errorf(format string, v ...interface{}) {
	if ErrWriter != io.Discard {
		ErrLog.Output(2, printfStr(format, v...))
	}
}

func Panicf(format string, v ...interface{}) {
	Errorf(format, v...)
	panic("panic triggered by log.Panicf")
}

func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}

func Critf(format string, v ...interface{}) {
	if CritWriter != io.Discard {
		CritLog.Output(2, printfStr(format, v...))
	}
}

/* SPECIAL */

// Finfof writes an info-level line straight to w, bypassing InfoWriter
// and the level threshold. Carried over from the teacher's access-log
// helper (there it formatted each HTTP request line to a dedicated
// writer); kept for any caller that holds its own writer but still
// wants sensocto's info prefix and date/time convention applied
// consistently.
func Finfof(w io.Writer, format string, v ...interface{}) {
	if w == io.Discard {
		return
	}
	if logDateTime {
		fmt.Fprintf(w, time.Now().String()+InfoPrefix+format+"\n", v...)
	} else {
		fmt.Fprintf(w, InfoPrefix+format+"\n", v...)
	}
}
