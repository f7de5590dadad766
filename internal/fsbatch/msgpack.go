package fsbatch

import (
	"context"
	"encoding/base64"

	"github.com/vmihailenco/msgpack/v5"

	"pkt.systems/cortex/schema"
)

// BatchMsgpack runs a MessagePack-encoded batch and answers in kind. The
// body travels base64-encoded inside the JSON IPC envelope.
func (s *Service) BatchMsgpack(ctx context.Context, body string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", schema.BadArgument("body", "is not base64")
	}
	var req schema.FSBatchRequest
	if err := msgpack.Unmarshal(raw, &req); err != nil {
		return "", schema.BadArgument("body", "is not a msgpack batch request")
	}
	out, err := msgpack.Marshal(s.Batch(ctx, req))
	if err != nil {
		return "", schema.Protocol("encode msgpack batch", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}
