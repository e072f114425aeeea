package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName  = "journal.v1.JournalEntryService"
	createMethod = "/" + serviceName + "/CreateJournalEntriesForLoan"
)

// Client sends payloads to a remote accounting service. The payload travels as a
// google.protobuf.Struct so no generated stubs are needed on either side.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target. Without options the connection is plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial journal service %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) CreateJournalEntriesForLoan(ctx context.Context, p Payload) error {
	req, err := toStruct(p)
	if err != nil {
		return err
	}
	if err := c.conn.Invoke(ctx, createMethod, req, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("failed to create journal entries for loan %s: %w", p.LoanID, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// RegisterServer exposes j as the journal service on s.
func RegisterServer(s *grpc.Server, j Journal) {
	s.RegisterService(&serviceDesc, j)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Journal)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateJournalEntriesForLoan", Handler: createHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "journal/v1/journal.proto",
}

func createHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handle := func(ctx context.Context, req any) (any, error) {
		p, err := fromStruct(req.(*structpb.Struct))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if err := srv.(Journal).CreateJournalEntriesForLoan(ctx, p); err != nil {
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
		return &emptypb.Empty{}, nil
	}
	if interceptor == nil {
		return handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: createMethod}
	return interceptor(ctx, in, info, handle)
}

func toStruct(p Payload) (*structpb.Struct, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode journal payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to encode journal payload: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode journal payload: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct) (Payload, error) {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return Payload{}, fmt.Errorf("failed to decode journal payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode journal payload: %w", err)
	}
	return p, nil
}
