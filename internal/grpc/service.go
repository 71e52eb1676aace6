package grpc

import (
	"context"

	"github.com/bookstore/services/lending/internal/db"
	"github.com/bookstore/services/lending/internal/lending"
	"google.golang.org/grpc"
)

const serviceName = "lending.v1.LendingService"

// SearchBooksRequest asks for books whose title contains Query
type SearchBooksRequest struct {
	Query string `json:"query"`
}

type SearchBooksResponse struct {
	Books []*db.Book `json:"books"`
}

// LoanRequest names the student and book of an issue or return.
// StudentID may be zero when the caller's token identifies the student.
type LoanRequest struct {
	StudentID uint `json:"student_id"`
	BookID    uint `json:"book_id"`
}

type IssueBookResponse struct {
	Loan *db.Loan `json:"loan"`
}

type ReturnBookResponse struct {
	Entry *db.HistoryEntry `json:"entry"`
}

// StudentRequest names the student whose loans are listed
type StudentRequest struct {
	StudentID uint `json:"student_id"`
}

type ListActiveLoansResponse struct {
	Loans []lending.ActiveLoan `json:"loans"`
}

type HistoryResponse struct {
	Entries []*db.HistoryEntry `json:"entries"`
}

// LendingServiceServer is the server API for the lending service
type LendingServiceServer interface {
	SearchBooks(context.Context, *SearchBooksRequest) (*SearchBooksResponse, error)
	IssueBook(context.Context, *LoanRequest) (*IssueBookResponse, error)
	ReturnBook(context.Context, *LoanRequest) (*ReturnBookResponse, error)
	ListActiveLoans(context.Context, *StudentRequest) (*ListActiveLoansResponse, error)
	History(context.Context, *StudentRequest) (*HistoryResponse, error)
}

// LendingServiceDesc describes the lending service for grpc.Server.RegisterService
var LendingServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LendingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SearchBooks",
			Handler:    unaryHandler("SearchBooks", LendingServiceServer.SearchBooks),
		},
		{
			MethodName: "IssueBook",
			Handler:    unaryHandler("IssueBook", LendingServiceServer.IssueBook),
		},
		{
			MethodName: "ReturnBook",
			Handler:    unaryHandler("ReturnBook", LendingServiceServer.ReturnBook),
		},
		{
			MethodName: "ListActiveLoans",
			Handler:    unaryHandler("ListActiveLoans", LendingServiceServer.ListActiveLoans),
		},
		{
			MethodName: "History",
			Handler:    unaryHandler("History", LendingServiceServer.History),
		},
	},
	Streams: []grpc.StreamDesc{},
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

func unaryHandler[Req, Resp any](method string, call func(LendingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LendingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(LendingServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// LendingClient calls the lending service using the JSON codec
type LendingClient struct {
	cc grpc.ClientConnInterface
}

// NewLendingClient creates a client on an established connection
func NewLendingClient(cc grpc.ClientConnInterface) *LendingClient {
	return &LendingClient{cc: cc}
}

func (c *LendingClient) SearchBooks(ctx context.Context, in *SearchBooksRequest, opts ...grpc.CallOption) (*SearchBooksResponse, error) {
	out := new(SearchBooksResponse)
	if err := c.invoke(ctx, "SearchBooks", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LendingClient) IssueBook(ctx context.Context, in *LoanRequest, opts ...grpc.CallOption) (*IssueBookResponse, error) {
	out := new(IssueBookResponse)
	if err := c.invoke(ctx, "IssueBook", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LendingClient) ReturnBook(ctx context.Context, in *LoanRequest, opts ...grpc.CallOption) (*ReturnBookResponse, error) {
	out := new(ReturnBookResponse)
	if err := c.invoke(ctx, "ReturnBook", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LendingClient) ListActiveLoans(ctx context.Context, in *StudentRequest, opts ...grpc.CallOption) (*ListActiveLoansResponse, error) {
	out := new(ListActiveLoansResponse)
	if err := c.invoke(ctx, "ListActiveLoans", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LendingClient) History(ctx context.Context, in *StudentRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	out := new(HistoryResponse)
	if err := c.invoke(ctx, "History", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LendingClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}
