package wire

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/apache/thrift/lib/go/thrift"
)

const scribeLog = "Log"

// ResultCode is the reply of a Scribe Log call.
type ResultCode int32

// Scribe result codes.
const (
	ResultOK       ResultCode = 0
	ResultTryLater ResultCode = 1
)

func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "OK"
	case ResultTryLater:
		return "TRY_LATER"
	}
	return fmt.Sprintf("ResultCode(%d)", int32(c))
}

// WriteLogCall writes a Scribe Log request for entries and flushes p.
// Messages travel base64 encoded, the form Zipkin's Scribe receiver reads.
func WriteLogCall(ctx context.Context, p thrift.TProtocol, seqID int32, entries []LogEntry) error {
	e := &encoder{ctx: ctx, p: p}
	e.check(p.WriteMessageBegin(ctx, scribeLog, thrift.CALL, seqID))
	e.beginStruct("Log_args")
	e.field("messages", thrift.LIST, 1)
	e.check(p.WriteListBegin(ctx, thrift.STRUCT, len(entries)))
	for _, entry := range entries {
		e.beginStruct("LogEntry")
		e.str("category", 1, entry.Category)
		e.str("message", 2, base64.StdEncoding.EncodeToString(entry.Message))
		e.endStruct()
	}
	e.check(p.WriteListEnd(ctx))
	e.endField()
	e.endStruct()
	e.check(p.WriteMessageEnd(ctx))
	e.check(p.Flush(ctx))
	return e.err
}

// ReadLogReply reads the reply to the Log call seqID.
func ReadLogReply(ctx context.Context, p thrift.TProtocol, seqID int32) (ResultCode, error) {
	name, typ, seq, err := p.ReadMessageBegin(ctx)
	if err != nil {
		return 0, err
	}
	if typ == thrift.EXCEPTION {
		exc := thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "")
		if err := exc.Read(ctx, p); err != nil {
			return 0, err
		}
		if err := p.ReadMessageEnd(ctx); err != nil {
			return 0, err
		}
		return 0, exc
	}
	if name != scribeLog || typ != thrift.REPLY {
		return 0, fmt.Errorf("unexpected message %q of type %d", name, typ)
	}
	if seq != seqID {
		return 0, fmt.Errorf("out of order reply %d, want %d", seq, seqID)
	}

	var (
		code ResultCode
		set  bool
	)
	err = readStruct(ctx, p, func(typ thrift.TType, id int16) (bool, error) {
		if id != 0 || typ != thrift.I32 {
			return false, nil
		}
		v, err := p.ReadI32(ctx)
		code, set = ResultCode(v), true
		return true, err
	})
	if err != nil {
		return 0, err
	}
	if err := p.ReadMessageEnd(ctx); err != nil {
		return 0, err
	}
	if !set {
		return 0, errors.New("Log failed: unknown result")
	}
	return code, nil
}

// ReadLogCall reads a Scribe Log request, the server side of WriteLogCall.
func ReadLogCall(ctx context.Context, p thrift.TProtocol) (int32, []LogEntry, error) {
	name, typ, seqID, err := p.ReadMessageBegin(ctx)
	if err != nil {
		return 0, nil, err
	}
	if name != scribeLog || (typ != thrift.CALL && typ != thrift.ONEWAY) {
		return seqID, nil, fmt.Errorf("unexpected message %q of type %d", name, typ)
	}

	var entries []LogEntry
	err = readStruct(ctx, p, func(typ thrift.TType, id int16) (bool, error) {
		if id != 1 || typ != thrift.LIST {
			return false, nil
		}
		_, size, err := p.ReadListBegin(ctx)
		if err != nil {
			return true, err
		}
		for i := 0; i < size; i++ {
			entry, err := readLogEntry(ctx, p)
			if err != nil {
				return true, err
			}
			entries = append(entries, entry)
		}
		return true, p.ReadListEnd(ctx)
	})
	if err != nil {
		return seqID, nil, err
	}
	return seqID, entries, p.ReadMessageEnd(ctx)
}

// WriteLogReply answers the Log call seqID with code and flushes p.
func WriteLogReply(ctx context.Context, p thrift.TProtocol, seqID int32, code ResultCode) error {
	e := &encoder{ctx: ctx, p: p}
	e.check(p.WriteMessageBegin(ctx, scribeLog, thrift.REPLY, seqID))
	e.beginStruct("Log_result")
	e.i32("success", 0, int32(code))
	e.endStruct()
	e.check(p.WriteMessageEnd(ctx))
	e.check(p.Flush(ctx))
	return e.err
}

func readLogEntry(ctx context.Context, p thrift.TProtocol) (LogEntry, error) {
	var entry LogEntry
	err := readStruct(ctx, p, func(typ thrift.TType, id int16) (bool, error) {
		if typ != thrift.STRING || (id != 1 && id != 2) {
			return false, nil
		}
		v, err := p.ReadString(ctx)
		if err != nil {
			return true, err
		}
		if id == 1 {
			entry.Category = v
			return true, nil
		}
		entry.Message, err = base64.StdEncoding.DecodeString(v)
		return true, err
	})
	return entry, err
}

// readStruct walks the fields of a struct. read consumes the fields it
// knows and reports whether it did; everything else is skipped.
func readStruct(ctx context.Context, p thrift.TProtocol, read func(typ thrift.TType, id int16) (bool, error)) error {
	if _, err := p.ReadStructBegin(ctx); err != nil {
		return err
	}
	for {
		_, typ, id, err := p.ReadFieldBegin(ctx)
		if err != nil {
			return err
		}
		if typ == thrift.STOP {
			break
		}
		done, err := read(typ, id)
		if err != nil {
			return err
		}
		if !done {
			if err := p.Skip(ctx, typ); err != nil {
				return err
			}
		}
		if err := p.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	return p.ReadStructEnd(ctx)
}
