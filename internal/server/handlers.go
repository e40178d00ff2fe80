package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/webrag/internal/models"
	"github.com/hyperjump/webrag/internal/storage"
)

// collectionView is a collection's live index state with its catalog record, if any.
type collectionView struct {
	models.CollectionInfo
	Record *models.CollectionRecord `json:"record,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	infos, err := s.service.Collections()
	if err != nil {
		s.logger.Error("status: list collections failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	states := make(map[models.IndexState]int)
	chunks := 0
	for _, info := range infos {
		states[info.State]++
		chunks += info.ChunkCount
	}
	resp := map[string]interface{}{
		"collections": len(infos),
		"chunks":      chunks,
		"states":      states,
	}
	if s.disk != nil {
		if bytes, err := s.disk.DiskUsage(""); err == nil {
			resp["disk_usage_bytes"] = bytes
		}
	}
	if s.watch != nil {
		resp["watched_directories"] = s.watch.Directories()
	}
	resp["answers_enabled"] = s.generator != nil
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	infos, err := s.service.Collections()
	if err != nil {
		s.respondServiceError(w, "list collections", err)
		return
	}
	records, err := s.catalog.ListCollections(ctx)
	if err != nil {
		s.respondServiceError(w, "list collection records", err)
		return
	}
	byID := make(map[string]*models.CollectionRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	views := make([]collectionView, 0, len(infos)+len(records))
	for _, info := range infos {
		views = append(views, collectionView{CollectionInfo: info, Record: byID[info.ID]})
		delete(byID, info.ID)
	}
	for id, rec := range byID {
		views = append(views, collectionView{CollectionInfo: s.service.Info(id), Record: rec})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"collections": views})
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := storage.ValidateCollectionID(id); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.catalog.GetCollection(r.Context(), id)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		s.respondServiceError(w, "get collection", err)
		return
	}
	view := s.view(id, rec)
	if rec == nil && view.State == models.StateEmpty {
		s.respondError(w, http.StatusNotFound, "collection not found")
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

func (s *Server) view(id string, rec *models.CollectionRecord) collectionView {
	return collectionView{CollectionInfo: s.service.Info(id), Record: rec}
}

func (s *Server) handlePutCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var input models.CollectionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("put collection request",
		zap.String("id", id),
		zap.String("source_url", input.SourceURL),
		zap.String("documents_dir", input.DocumentsDir),
		zap.Int("documents", len(input.Documents)))

	rec, err := s.catalog.UpsertCollection(ctx, id, &input)
	if err != nil {
		s.respondServiceError(w, "register collection", err)
		return
	}

	docs := input.Documents
	if len(docs) == 0 && rec.HasSource() {
		if docs, err = s.loader.LoadRecord(ctx, rec); err != nil {
			s.respondServiceError(w, "load collection source", err)
			return
		}
	}
	built := false
	if len(docs) > 0 {
		if built, err = s.service.Refresh(ctx, id, docs); err != nil {
			s.respondServiceError(w, "index collection", err)
			return
		}
	}
	if s.watch != nil && rec.DocumentsDir != "" {
		if err := s.watch.Watch(id, rec.DocumentsDir, false); err != nil {
			s.logger.Warn("failed to watch documents directory", zap.String("id", id), zap.Error(err))
		}
	}
	if rec, err = s.catalog.GetCollection(ctx, id); err != nil {
		s.respondServiceError(w, "get collection", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"collection": s.view(id, rec),
		"built":      built,
	})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete collection request", zap.String("id", id))
	if s.watch != nil {
		s.watch.Unwatch(id)
	}
	if err := s.service.Invalidate(ctx, id); err != nil {
		s.respondServiceError(w, "delete collection", err)
		return
	}
	if err := s.catalog.DeleteCollection(ctx, id); err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		s.respondServiceError(w, "delete collection record", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	rec, err := s.catalog.GetCollection(ctx, id)
	if err != nil {
		s.respondServiceError(w, "rebuild collection", err)
		return
	}
	docs, err := s.loader.LoadRecord(ctx, rec)
	if err != nil {
		s.respondServiceError(w, "load collection source", err)
		return
	}
	coll, err := s.service.Rebuild(ctx, id, docs)
	if err != nil {
		s.respondServiceError(w, "rebuild collection", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.CollectionInfo{
		ID:         id,
		State:      models.StateReady,
		ChunkCount: coll.Len(),
		Dimension:  coll.Dimension,
	})
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (*models.QueryRequest, bool) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if strings.TrimSpace(req.Query) == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return nil, false
	}
	if req.K < 0 {
		s.respondError(w, http.StatusBadRequest, "k must not be negative")
		return nil, false
	}
	return &req, true
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	s.logger.Debug("query request", zap.String("id", id), zap.String("query", req.Query), zap.Int("k", req.K))
	start := time.Now()
	hits, err := s.service.Query(r.Context(), id, req.Query, req.K)
	if err != nil {
		s.respondServiceError(w, "query", err)
		return
	}
	s.respondJSON(w, http.StatusOK, &models.QueryResponse{
		CollectionID: id,
		Query:        req.Query,
		Results:      hits,
		QueryTime:    time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if s.generator == nil {
		s.respondError(w, http.StatusNotImplemented, "answer generation not configured")
		return
	}
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	s.logger.Debug("ask request", zap.String("id", id), zap.String("query", req.Query))
	start := time.Now()
	hits, err := s.service.Query(ctx, id, req.Query, req.K)
	if err != nil {
		s.respondServiceError(w, "ask", err)
		return
	}
	ans, err := s.generator.Generate(ctx, req.Query, hits)
	if err != nil {
		s.logger.Error("answer generation failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := &models.AskResponse{
		QueryResponse: models.QueryResponse{
			CollectionID: id,
			Query:        req.Query,
			Results:      hits,
			QueryTime:    time.Since(start).Milliseconds(),
		},
		Answer: ans.Text,
	}
	chat := &models.Chat{CollectionID: id, Query: req.Query, Prompt: ans.Prompt, Response: ans.Text}
	if _, err := s.catalog.UpsertCollection(ctx, id, nil); err != nil {
		s.logger.Warn("failed to register collection for chat", zap.String("id", id), zap.Error(err))
	} else if err := s.catalog.CreateChat(ctx, chat); err != nil {
		s.logger.Warn("failed to store chat", zap.String("id", id), zap.Error(err))
	} else {
		resp.ChatID = chat.ID
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := storage.ValidateCollectionID(id); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	chats, err := s.catalog.ListChats(r.Context(), id, limit)
	if err != nil {
		s.respondServiceError(w, "list chats", err)
		return
	}
	if chats == nil {
		chats = []*models.Chat{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
}

func (s *Server) respondServiceError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
