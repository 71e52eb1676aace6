package grpc

import (
	"context"
	"errors"

	"github.com/bookstore/services/lending/internal/apperr"
	"github.com/bookstore/services/lending/internal/auth"
	"github.com/bookstore/services/lending/internal/lending"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LendingServer implements the LendingService gRPC service
type LendingServer struct {
	svc *lending.Service
	log *zap.Logger
}

// NewLendingServer creates a new lending gRPC server
func NewLendingServer(svc *lending.Service, log *zap.Logger) *LendingServer {
	return &LendingServer{
		svc: svc,
		log: log,
	}
}

// RegisterLendingService registers the lending service with the gRPC server
func RegisterLendingService(s grpc.ServiceRegistrar, srv LendingServiceServer) {
	s.RegisterService(&LendingServiceDesc, srv)
}

// SearchBooks returns books whose title contains the query
func (s *LendingServer) SearchBooks(ctx context.Context, req *SearchBooksRequest) (*SearchBooksResponse, error) {
	books, err := s.svc.SearchBooks(ctx, req.Query)
	if err != nil {
		return nil, s.toStatus(err, "failed to search books")
	}
	return &SearchBooksResponse{Books: books}, nil
}

// IssueBook lends a book to a student
func (s *LendingServer) IssueBook(ctx context.Context, req *LoanRequest) (*IssueBookResponse, error) {
	if req.BookID == 0 {
		return nil, status.Error(codes.InvalidArgument, "book_id is required")
	}
	studentID, err := auth.ResolveStudent(ctx, req.StudentID)
	if err != nil {
		return nil, s.toStatus(err, "")
	}

	loan, err := s.svc.Issue(ctx, studentID, req.BookID)
	if err != nil {
		return nil, s.toStatus(err, "failed to issue book")
	}
	return &IssueBookResponse{Loan: loan}, nil
}

// ReturnBook closes a student's loan and reports the fine
func (s *LendingServer) ReturnBook(ctx context.Context, req *LoanRequest) (*ReturnBookResponse, error) {
	if req.BookID == 0 {
		return nil, status.Error(codes.InvalidArgument, "book_id is required")
	}
	studentID, err := auth.ResolveStudent(ctx, req.StudentID)
	if err != nil {
		return nil, s.toStatus(err, "")
	}

	entry, err := s.svc.Return(ctx, studentID, req.BookID)
	if err != nil {
		return nil, s.toStatus(err, "failed to return book")
	}
	return &ReturnBookResponse{Entry: entry}, nil
}

// ListActiveLoans returns a student's open loans with their current fines
func (s *LendingServer) ListActiveLoans(ctx context.Context, req *StudentRequest) (*ListActiveLoansResponse, error) {
	studentID, err := auth.ResolveStudent(ctx, req.StudentID)
	if err != nil {
		return nil, s.toStatus(err, "")
	}

	loans, err := s.svc.ListActiveLoans(ctx, studentID)
	if err != nil {
		return nil, s.toStatus(err, "failed to list active loans")
	}
	return &ListActiveLoansResponse{Loans: loans}, nil
}

// History returns a student's returned loans
func (s *LendingServer) History(ctx context.Context, req *StudentRequest) (*HistoryResponse, error) {
	studentID, err := auth.ResolveStudent(ctx, req.StudentID)
	if err != nil {
		return nil, s.toStatus(err, "")
	}

	entries, err := s.svc.History(ctx, studentID)
	if err != nil {
		return nil, s.toStatus(err, "failed to list history")
	}
	return &HistoryResponse{Entries: entries}, nil
}

// toStatus maps lending errors to gRPC status codes. Unclassified errors
// are logged and reported as Internal with internalMsg.
func (s *LendingServer) toStatus(err error, internalMsg string) error {
	var code codes.Code
	switch {
	case errors.Is(err, apperr.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, apperr.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, apperr.ErrOutOfStock), errors.Is(err, apperr.ErrConflict):
		code = codes.FailedPrecondition
	case errors.Is(err, apperr.ErrDuplicateLoan):
		code = codes.AlreadyExists
	case errors.Is(err, apperr.ErrLimitExceeded):
		code = codes.ResourceExhausted
	case errors.Is(err, apperr.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, apperr.ErrForbidden):
		code = codes.PermissionDenied
	default:
		s.log.Error("Lending RPC failed", zap.Error(err))
		if internalMsg == "" {
			internalMsg = "internal error"
		}
		return status.Error(codes.Internal, internalMsg)
	}
	return status.Error(code, apperr.Message(err, err.Error()))
}
