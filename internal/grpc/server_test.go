package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bookstore/services/lending/internal/auth"
	"github.com/bookstore/services/lending/internal/clock"
	"github.com/bookstore/services/lending/internal/db"
	"github.com/bookstore/services/lending/internal/events"
	"github.com/bookstore/services/lending/internal/lending"
	"github.com/bookstore/services/lending/internal/repo"
	"github.com/bookstore/services/lending/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

type testEnv struct {
	client   *LendingClient
	health   grpc_health_v1.HealthClient
	svc      *lending.Service
	auth     *auth.Service
	clock    *clock.Fake
	recorder *events.Recorder
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	return setupTestServerWithAuth(t, false)
}

func setupTestServerWithAuth(t *testing.T, authRequired bool) *testEnv {
	t.Helper()

	database, err := db.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	log := logger.NewTestLogger()
	clk := clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	recorder := &events.Recorder{}

	svc := lending.NewService(database, lending.DefaultPolicy(), clk, recorder, nil, log)
	authSvc := auth.NewService(repo.NewUserRepository(database, log), "test-secret", time.Hour, clk, log)

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RequestIDInterceptor(),
		AuthInterceptor(authSvc, authRequired),
		LoggingInterceptor(log),
	))
	RegisterLendingService(s, NewLendingServer(svc, log))
	grpc_health_v1.RegisterHealthServer(s, NewHealthServer(database, recorder, log))

	go func() {
		if err := s.Serve(lis); err != nil {
			t.Logf("Server exited with error: %v", err)
		}
	}()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testEnv{
		client:   NewLendingClient(conn),
		health:   grpc_health_v1.NewHealthClient(conn),
		svc:      svc,
		auth:     authSvc,
		clock:    clk,
		recorder: recorder,
	}
}

func TestIssueSearchAndReturn(t *testing.T) {
	env := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	book, err := env.svc.AddBook(ctx, "C++", 1)
	require.NoError(t, err)

	searchResp, err := env.client.SearchBooks(ctx, &SearchBooksRequest{Query: "c+"})
	require.NoError(t, err)
	require.Len(t, searchResp.Books, 1)
	assert.Equal(t, "C++", searchResp.Books[0].Title)

	issueResp, err := env.client.IssueBook(ctx, &LoanRequest{StudentID: 1, BookID: book.ID})
	require.NoError(t, err)
	assert.Equal(t, uint(1), issueResp.Loan.StudentID)

	_, err = env.client.IssueBook(ctx, &LoanRequest{StudentID: 2, BookID: book.ID})
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, "Book not available", status.Convert(err).Message())

	env.clock.AdvanceDays(10)

	activeResp, err := env.client.ListActiveLoans(ctx, &StudentRequest{StudentID: 1})
	require.NoError(t, err)
	require.Len(t, activeResp.Loans, 1)
	assert.Equal(t, int64(15), activeResp.Loans[0].Fine)

	returnResp, err := env.client.ReturnBook(ctx, &LoanRequest{StudentID: 1, BookID: book.ID})
	require.NoError(t, err)
	assert.Equal(t, 10, returnResp.Entry.Days)
	assert.Equal(t, int64(15), returnResp.Entry.Fine)

	historyResp, err := env.client.History(ctx, &StudentRequest{StudentID: 1})
	require.NoError(t, err)
	require.Len(t, historyResp.Entries, 1)
	assert.Equal(t, "C++", historyResp.Entries[0].BookTitle)
}

func TestErrorCodes(t *testing.T) {
	env := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := env.client.IssueBook(ctx, &LoanRequest{StudentID: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.IssueBook(ctx, &LoanRequest{StudentID: 1, BookID: 404})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = env.client.ReturnBook(ctx, &LoanRequest{StudentID: 1, BookID: 404})
	assert.Equal(t, codes.NotFound, status.Code(err))

	a, err := env.svc.AddBook(ctx, "A", 2)
	require.NoError(t, err)
	b, err := env.svc.AddBook(ctx, "B", 1)
	require.NoError(t, err)
	c, err := env.svc.AddBook(ctx, "C", 1)
	require.NoError(t, err)

	_, err = env.client.IssueBook(ctx, &LoanRequest{StudentID: 1, BookID: a.ID})
	require.NoError(t, err)
	_, err = env.client.IssueBook(ctx, &LoanRequest{StudentID: 1, BookID: a.ID})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = env.client.IssueBook(ctx, &LoanRequest{StudentID: 1, BookID: b.ID})
	require.NoError(t, err)
	_, err = env.client.IssueBook(ctx, &LoanRequest{StudentID: 1, BookID: c.ID})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, "Book limit reached (Max 2 books allowed)", status.Convert(err).Message())
}

func TestTokenIdentifiesStudent(t *testing.T) {
	env := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	book, err := env.svc.AddBook(ctx, "Tokened", 2)
	require.NoError(t, err)

	token, err := env.auth.IssueToken(&db.User{ID: 8, Role: db.RoleStudent})
	require.NoError(t, err)
	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token, requestIDKey, "rpc-1")

	issueResp, err := env.client.IssueBook(authed, &LoanRequest{BookID: book.ID})
	require.NoError(t, err)
	assert.Equal(t, uint(8), issueResp.Loan.StudentID)

	_, err = env.client.ListActiveLoans(authed, &StudentRequest{StudentID: 9})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	bad := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer nope")
	_, err = env.client.SearchBooks(bad, &SearchBooksRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	env.svc.Wait()
	var issued []events.Event
	for _, event := range env.recorder.Events() {
		if event.EventType == events.EventTypeLoanIssued {
			issued = append(issued, event)
		}
	}
	require.Len(t, issued, 1)
	assert.Equal(t, "rpc-1", issued[0].CorrelationID)
}

func TestAuthRequiredRejectsAnonymousCalls(t *testing.T) {
	env := setupTestServerWithAuth(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	book, err := env.svc.AddBook(ctx, "Guarded", 1)
	require.NoError(t, err)

	_, err = env.client.IssueBook(ctx, &LoanRequest{StudentID: 42, BookID: book.ID})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	_, err = env.client.ReturnBook(ctx, &LoanRequest{StudentID: 42, BookID: book.ID})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	_, err = env.client.ListActiveLoans(ctx, &StudentRequest{StudentID: 42})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	_, err = env.client.History(ctx, &StudentRequest{StudentID: 42})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	loaded, err := env.svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Total)

	// Search and health stay public
	searchResp, err := env.client.SearchBooks(ctx, &SearchBooksRequest{Query: "guard"})
	require.NoError(t, err)
	assert.Len(t, searchResp.Books, 1)

	healthResp, err := env.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, healthResp.Status)

	token, err := env.auth.IssueToken(&db.User{ID: 42, Role: db.RoleStudent})
	require.NoError(t, err)
	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)

	issueResp, err := env.client.IssueBook(authed, &LoanRequest{BookID: book.ID})
	require.NoError(t, err)
	assert.Equal(t, uint(42), issueResp.Loan.StudentID)
}

type downPinger struct{}

func (downPinger) Ping() error { return errors.New("connection refused") }

func TestHealthCheck(t *testing.T) {
	env := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := env.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	down := NewHealthServer(downPinger{}, events.Nop{}, logger.NewTestLogger())
	resp, err = down.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)
}
