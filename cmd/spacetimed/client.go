package main

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// dialControl connects to a spacetimed serve process's control RPC
// listener, selecting the hand-rolled JSON codec (pkg/rpcapi/codec.go)
// rather than protobuf, since there are no protoc-generated stubs in
// this repository.
func dialControl(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("spacetimed: dial %s: %w", addr, err)
	}
	return conn, nil
}

func invokeControl(ctx context.Context, conn *grpc.ClientConn, method string, in, out interface{}) error {
	fullMethod := fmt.Sprintf("/spacetimedb.control.Control/%s", method)
	return conn.Invoke(ctx, fullMethod, in, out, grpc.CallContentSubtype(rpcapiCodecName))
}

// rpcapiCodecName mirrors the unexported codecName in pkg/rpcapi; kept
// as its own constant here since the client only needs the name, not
// the codec's Marshal/Unmarshal (grpc resolves those by name against
// the registry every process-wide encoding.RegisterCodec populates).
const rpcapiCodecName = "json"
