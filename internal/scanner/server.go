package scanner

import (
	"net/http"

	"github.com/kazz187/taskwarden/pkg/cerr"
)

type Server struct {
	scanner *Scanner
}

func NewServer(s *Scanner) *Server {
	return &Server{scanner: s}
}

// RunScan performs one tick on demand, for external schedulers.
func (s *Server) RunScan(w http.ResponseWriter, r *http.Request) {
	report, err := s.scanner.Tick(r.Context())
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), report)
}
