package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/pkg/types"
)

// maxDumpUploadBytes bounds a single .dmp upload — crash dumps run large,
// but an unbounded multipart body is a memory-exhaustion vector.
const maxDumpUploadBytes = 4 << 30 // 4GiB

func dumpStoragePath(userID, dumpID string) []string {
	return []string{"dumps", userID, dumpID}
}

// dumpBlobPath is where the raw .dmp bytes live, alongside but outside
// internal/storage's JSON-only convention (storage.Storage always appends
// ".json" to the path it's given).
func dumpBlobPath(storageRoot, userID, dumpID string) string {
	return filepath.Join(storageRoot, "dumps", userID, dumpID+".dmp")
}

func (s *Server) handleDumpUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDumpUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, s.log, apperr.Wrap(apperr.InvalidArgument, "failed to parse multipart upload", err))
		return
	}

	userID := r.FormValue("userId")
	if userID == "" {
		writeError(w, s.log, apperr.New(apperr.InvalidArgument, "userId is required"))
		return
	}
	description := r.FormValue("description")

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, s.log, apperr.Wrap(apperr.InvalidArgument, "file is required", err))
		return
	}
	defer file.Close()

	dumpID := ulid.Make().String()
	blobPath := dumpBlobPath(s.storage.BasePath(), userID, dumpID)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0755); err != nil {
		writeError(w, s.log, apperr.Wrap(apperr.Internal, "failed to create dump directory", err))
		return
	}

	out, err := os.Create(blobPath)
	if err != nil {
		writeError(w, s.log, apperr.Wrap(apperr.Internal, "failed to create dump file", err))
		return
	}
	defer out.Close()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), file); err != nil {
		writeError(w, s.log, apperr.Wrap(apperr.Internal, "failed to write dump file", err))
		return
	}

	dump := types.Dump{
		ID:          dumpID,
		UserID:      userID,
		Path:        blobPath,
		Description: description,
		Sha:         hex.EncodeToString(hasher.Sum(nil)),
		Time:        types.DumpTime{Uploaded: time.Now().UnixMilli()},
	}

	if err := s.storage.Put(r.Context(), dumpStoragePath(userID, dumpID), &dump); err != nil {
		writeError(w, s.log, apperr.Wrap(apperr.Internal, "failed to persist dump metadata", err))
		return
	}

	writeJSON(w, http.StatusOK, dump)
}

func (s *Server) handleDumpList(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	ids, err := s.storage.List(r.Context(), []string{"dumps", userID})
	if err != nil {
		writeError(w, s.log, apperr.Wrap(apperr.Internal, "failed to list dumps", err))
		return
	}

	dumps := make([]types.Dump, 0, len(ids))
	for _, id := range ids {
		var dump types.Dump
		if err := s.storage.Get(r.Context(), dumpStoragePath(userID, id), &dump); err != nil {
			continue
		}
		dumps = append(dumps, dump)
	}

	writeJSON(w, http.StatusOK, dumps)
}

func (s *Server) handleDumpGet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	dumpID := chi.URLParam(r, "dumpID")

	var dump types.Dump
	if err := s.storage.Get(r.Context(), dumpStoragePath(userID, dumpID), &dump); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, s.log, apperr.Newf(apperr.NotFound, "dump %q not found", dumpID))
			return
		}
		writeError(w, s.log, apperr.Wrap(apperr.Internal, "failed to load dump metadata", err))
		return
	}

	writeJSON(w, http.StatusOK, dump)
}

func (s *Server) handleDumpDelete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	dumpID := chi.URLParam(r, "dumpID")

	if err := s.storage.Delete(r.Context(), dumpStoragePath(userID, dumpID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, s.log, apperr.Wrap(apperr.Internal, "failed to delete dump metadata", err))
		return
	}
	_ = os.Remove(dumpBlobPath(s.storage.BasePath(), userID, dumpID))
	if err := s.symbols.ClearDumpCache(r.Context(), userID, dumpID); err != nil {
		s.log.Warn().Err(err).Str("dumpID", dumpID).Msg("httpapi: failed to clear symbol cache on dump delete")
	}

	writeNoContent(w)
}
