package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bookstore/services/lending/internal/apperr"
	"github.com/bookstore/services/lending/internal/auth"
	"go.uber.org/zap"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

type addBookRequest struct {
	Title string `json:"title"`
	Total int    `json:"total"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type messageResponse struct {
	Msg string `json:"msg"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) searchBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.lending.SearchBooks(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, books)
}

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.lending.ListBooks(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, books)
}

func (s *Server) addBook(w http.ResponseWriter, r *http.Request) {
	var req addBookRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	book, err := s.lending.AddBook(r.Context(), req.Title, req.Total)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, book)
}

func (s *Server) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.lending.DeleteBook(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Msg: "Book deleted"})
}

func (s *Server) reduceQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	qty, err := strconv.Atoi(r.URL.Query().Get("qty"))
	if err != nil {
		s.writeError(w, apperr.Validation("qty must be an integer"))
		return
	}

	book, err := s.lending.ReduceQuantity(r.Context(), id, qty)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, book)
}

func (s *Server) listAllIssued(w http.ResponseWriter, r *http.Request) {
	loans, err := s.lending.ListAllIssued(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loans)
}

func (s *Server) adminHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.lending.AdminHistory(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) issueBook(w http.ResponseWriter, r *http.Request) {
	bookID, studentID, err := s.loanTarget(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	loan, err := s.lending.Issue(r.Context(), studentID, bookID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) returnBook(w http.ResponseWriter, r *http.Request) {
	bookID, studentID, err := s.loanTarget(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entry, err := s.lending.Return(r.Context(), studentID, bookID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) listActiveLoans(w http.ResponseWriter, r *http.Request) {
	studentID, err := studentFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	loans, err := s.lending.ListActiveLoans(r.Context(), studentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loans)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	studentID, err := studentFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entries, err := s.lending.History(r.Context(), studentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	user, err := s.auth.Register(r.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		s.writeError(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	user, err := s.auth.Profile(r.Context(), principal.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) loanTarget(r *http.Request) (bookID, studentID uint, err error) {
	bookID, err = pathID(r, "bookId")
	if err != nil {
		return 0, 0, err
	}
	studentID, err = studentFromQuery(r)
	return bookID, studentID, err
}

// studentFromQuery resolves the acting student from ?user_id= and the caller's token.
func studentFromQuery(r *http.Request) (uint, error) {
	var requested uint
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, apperr.Validation("user_id must be a positive integer")
		}
		requested = uint(n)
	}
	return auth.ResolveStudent(r.Context(), requested)
}

func pathID(r *http.Request, name string) (uint, error) {
	n, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || n == 0 {
		return 0, apperr.Validation("Invalid %s", name)
	}
	return uint(n), nil
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("Request body too large")
		}
		return apperr.Validation("Invalid request body")
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed", zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Detail: apperr.Message(err, "Internal server error")})
}
