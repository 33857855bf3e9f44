package transport

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"io"
	"net/rpc"
)

// Every rpc message travels as two frames, the header and the body, each one
// holding a self contained gob stream.

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decode(payload []byte, v any) error {
	if v == nil {
		return nil
	}

	return gob.NewDecoder(bytes.NewReader(payload)).Decode(v)
}

func writeMessage(w *bufio.Writer, header, body any) error {
	h, err := encode(header)
	if err != nil {
		return err
	}

	b, err := encode(body)
	if err != nil {
		return err
	}

	if err := WriteFrame(w, h); err != nil {
		return err
	}

	if err := WriteFrame(w, b); err != nil {
		return err
	}

	return w.Flush()
}

type serverCodec struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader
	w   *bufio.Writer
}

// NewServerCodec returns a rpc.ServerCodec speaking the framed protocol over conn.
func NewServerCodec(conn io.ReadWriteCloser) rpc.ServerCodec {
	return &serverCodec{
		rwc: conn,
		r:   bufio.NewReader(conn),
		w:   bufio.NewWriter(conn),
	}
}

func (c *serverCodec) ReadRequestHeader(r *rpc.Request) error {
	payload, err := ReadFrame(c.r)
	if err != nil {
		return err
	}

	return decode(payload, r)
}

func (c *serverCodec) ReadRequestBody(body any) error {
	payload, err := ReadFrame(c.r)
	if err != nil {
		return err
	}

	return decode(payload, body)
}

func (c *serverCodec) WriteResponse(r *rpc.Response, body any) error {
	if err := writeMessage(c.w, r, body); err != nil {
		c.Close()
		return err
	}

	return nil
}

func (c *serverCodec) Close() error {
	return c.rwc.Close()
}

type clientCodec struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader
	w   *bufio.Writer
}

// NewClientCodec returns a rpc.ClientCodec speaking the framed protocol over conn.
func NewClientCodec(conn io.ReadWriteCloser) rpc.ClientCodec {
	return &clientCodec{
		rwc: conn,
		r:   bufio.NewReader(conn),
		w:   bufio.NewWriter(conn),
	}
}

func (c *clientCodec) WriteRequest(r *rpc.Request, body any) error {
	return writeMessage(c.w, r, body)
}

func (c *clientCodec) ReadResponseHeader(r *rpc.Response) error {
	payload, err := ReadFrame(c.r)
	if err != nil {
		return err
	}

	return decode(payload, r)
}

func (c *clientCodec) ReadResponseBody(body any) error {
	payload, err := ReadFrame(c.r)
	if err != nil {
		return err
	}

	return decode(payload, body)
}

func (c *clientCodec) Close() error {
	return c.rwc.Close()
}
