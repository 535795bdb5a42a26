package iface

import "github.com/tidwall/redcon"

type RespRegister interface {
	AddCommandHandler(command string, h RespCommandHandler)
}

type RespResult func(conn redcon.Conn) error

type RespArg []byte

type RespCommandHandler func(args []RespArg) (RespResult, error)

func RespErrorResult(msg string) RespResult {
	return func(conn redcon.Conn) error {
		conn.WriteError("ERR " + msg)
		return nil
	}
}

var nilResult = func(conn redcon.Conn) error {
	conn.WriteNull()
	return nil
}

func RespNilResult() RespResult {
	return nilResult
}

func RespValueResult(val []byte) RespResult {
	return func(conn redcon.Conn) error {
		conn.WriteBulk(val)
		return nil
	}
}

func RespStringResult(msg string) RespResult {
	return func(conn redcon.Conn) error {
		conn.WriteString(msg)
		return nil
	}
}

func RespInt64Result(i int64) RespResult {
	return func(conn redcon.Conn) error {
		conn.WriteInt64(i)
		return nil
	}
}

// RespBulkArrayResult writes an array of bulk strings, nil slots become RESP nulls.
func RespBulkArrayResult(vals [][]byte) RespResult {
	return func(conn redcon.Conn) error {
		conn.WriteArray(len(vals))
		for _, v := range vals {
			if v == nil {
				conn.WriteNull()
			} else {
				conn.WriteBulk(v)
			}
		}
		return nil
	}
}
