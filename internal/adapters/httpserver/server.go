package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/phenrril/pharmastore/internal/adapters/sheets"
	"github.com/phenrril/pharmastore/internal/domain"
	"github.com/phenrril/pharmastore/internal/usecase"
)

const defaultMaxUpload = 10 << 20

type Server struct {
	mux        *http.ServeMux
	runs       *usecase.RunRegistry
	quota      *usecase.QuotaUC
	products   *usecase.ProductUC
	pharmacies domain.PharmacyRepo
	maxUpload  int64
}

func New(runs *usecase.RunRegistry, quota *usecase.QuotaUC, products *usecase.ProductUC, pharmacies domain.PharmacyRepo, maxUpload int64) http.Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	s := &Server{
		mux:        http.NewServeMux(),
		runs:       runs,
		quota:      quota,
		products:   products,
		pharmacies: pharmacies,
		maxUpload:  maxUpload,
	}
	s.routes()
	return Chain(s.mux,
		RequestID,
		Logging,
		Recovery,
	)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.HandleFunc("/api/ingest/sheet", s.apiIngestSheet)
	s.mux.HandleFunc("/api/ingest/upload", s.apiIngestUpload)
	s.mux.HandleFunc("/api/ingest/runs/", s.apiIngestRun)
	s.mux.HandleFunc("/api/quota", s.apiQuota)
	s.mux.HandleFunc("/api/products", s.apiProducts)
	s.mux.HandleFunc("/api/categories", s.apiCategories)
	s.mux.HandleFunc("/api/pharmacies", s.apiPharmacies)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) apiIngestSheet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		PharmacyID   string `json:"pharmacy_id"`
		PharmacyName string `json:"pharmacy_name"`
		SheetURL     string `json:"sheet_url"`
		Model        string `json:"model"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be JSON.")
		return
	}
	req.PharmacyID = strings.TrimSpace(req.PharmacyID)
	if req.PharmacyID == "" {
		writeError(w, http.StatusBadRequest, "pharmacy_required", "pharmacy_id is required.")
		return
	}
	if _, err := sheets.SheetID(req.SheetURL); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_sheet_url", "Invalid Google Sheet URL.")
		return
	}

	id := s.runs.Start(domain.IngestRequest{
		PharmacyID:   req.PharmacyID,
		PharmacyName: s.pharmacyName(r, req.PharmacyID, req.PharmacyName),
		SheetURL:     strings.TrimSpace(req.SheetURL),
		Model:        req.Model,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (s *Server) apiIngestUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "multipart", "Expected a multipart form with a file.")
		return
	}
	pharmacyID := strings.TrimSpace(r.FormValue("pharmacy_id"))
	if pharmacyID == "" {
		writeError(w, http.StatusBadRequest, "pharmacy_required", "pharmacy_id is required.")
		return
	}
	fh := r.MultipartForm.File["file"]
	if len(fh) == 0 {
		writeError(w, http.StatusBadRequest, "file_required", "file is required.")
		return
	}
	f, err := fh[0].Open()
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required", "file is required.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxUpload))
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty_file", "The uploaded file is empty.")
		return
	}
	name := fh[0].Filename
	if !supportedUpload(name) {
		writeError(w, http.StatusBadRequest, "unsupported_file", "Upload a .xlsx or .csv file.")
		return
	}

	id := s.runs.Start(domain.IngestRequest{
		PharmacyID:   pharmacyID,
		PharmacyName: s.pharmacyName(r, pharmacyID, r.FormValue("pharmacy_name")),
		File:         &domain.UploadFile{Name: name, Data: data},
		Model:        r.FormValue("model"),
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

// apiIngestRun serves GET /api/ingest/runs/{id} and POST /api/ingest/runs/{id}/cancel.
func (s *Server) apiIngestRun(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/ingest/runs/"), "/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 2 {
		if parts[1] != "cancel" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.runs.Cancel(id); err != nil {
			writeError(w, http.StatusNotFound, "not_found", "Run not found.")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	info, err := s.runs.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Run not found.")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) apiQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	pharmacyID := strings.TrimSpace(r.URL.Query().Get("pharmacy_id"))
	if pharmacyID == "" {
		writeError(w, http.StatusBadRequest, "pharmacy_required", "pharmacy_id is required.")
		return
	}
	adm, err := s.quota.CheckAdmission(r.Context(), pharmacyID)
	if err != nil {
		log.Error().Err(err).Str("pharmacy_id", pharmacyID).Msg("quota check")
		writeError(w, http.StatusInternalServerError, "quota_error", "Could not check the upload quota.")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		domain.Admission
		Remaining int    `json:"remaining"`
		Message   string `json:"message,omitempty"`
	}{adm, adm.Cap(int(adm.DailyLimit)), adm.DenialMessage()})
}

func (s *Server) apiProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	f := domain.ProductFilter{
		PharmacyID: strings.TrimSpace(q.Get("pharmacy_id")),
		Category:   q.Get("category"),
		Query:      q.Get("q"),
		Sort:       q.Get("sort"),
		Page:       page,
		PageSize:   size,
	}
	if f.PharmacyID == "" {
		writeError(w, http.StatusBadRequest, "pharmacy_required", "pharmacy_id is required.")
		return
	}
	list, total, err := s.products.List(r.Context(), f)
	if err != nil {
		log.Error().Err(err).Msg("list products")
		writeError(w, http.StatusInternalServerError, "list_error", "Could not list products.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list, "total": total})
}

func (s *Server) apiCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	cats, err := s.products.Categories(r.Context(), strings.TrimSpace(r.URL.Query().Get("pharmacy_id")))
	if err != nil {
		log.Error().Err(err).Msg("list categories")
		writeError(w, http.StatusInternalServerError, "list_error", "Could not list categories.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (s *Server) apiPharmacies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be JSON.")
		return
	}
	p := &domain.Pharmacy{
		Name:  strings.TrimSpace(req.Name),
		Email: strings.TrimSpace(req.Email),
		Phone: strings.TrimSpace(req.Phone),
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required", "name is required.")
		return
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid_email", "email is not valid.")
		return
	}
	if err := s.pharmacies.Save(r.Context(), p); err != nil {
		log.Error().Err(err).Msg("save pharmacy")
		writeError(w, http.StatusInternalServerError, "save_error", "Could not save the pharmacy.")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// pharmacyName prefers the stored pharmacy record over the name sent by the client.
func (s *Server) pharmacyName(r *http.Request, pharmacyID, fallback string) string {
	if s.pharmacies != nil {
		if id, err := uuid.Parse(pharmacyID); err == nil {
			p, err := s.pharmacies.FindByID(r.Context(), id)
			if err == nil {
				return p.Name
			}
			if !errors.Is(err, domain.ErrNotFound) {
				log.Warn().Err(err).Str("pharmacy_id", pharmacyID).Msg("pharmacy lookup")
			}
		}
	}
	return strings.TrimSpace(fallback)
}

func supportedUpload(name string) bool {
	n := strings.ToLower(name)
	return strings.HasSuffix(n, ".xlsx") || strings.HasSuffix(n, ".csv")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, map[string]string{"error": kind, "message": message})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method", "Method not allowed.")
}
