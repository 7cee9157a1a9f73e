package server

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/playback"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/service"
)

// PhaseResponse describes the recording session.
type PhaseResponse struct {
	Phase     string          `json:"phase"`
	Details   recording.Phase `json:"details,omitempty"`
	LastError string          `json:"last_error,omitempty"`
}

// PlaybackResponse wraps the playback state.
type PlaybackResponse struct {
	Success bool           `json:"success"`
	State   playback.State `json:"state"`
}

type idsRequest struct {
	IDs      []string `json:"ids"`
	FolderID string   `json:"folder_id,omitempty"`
}

type seekRequest struct {
	Percent float64 `json:"percent"`
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

type folderRequest struct {
	Name string `json:"name"`
}

func (s *Server) phaseResponse() PhaseResponse {
	p := s.service.RecordingState()
	return PhaseResponse{Phase: p.Name(), Details: p, LastError: s.service.GetLastError()}
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.phaseResponse())
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req service.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendServiceError(w, err, "operation", "start_recording")
		return
	}
	err := s.service.StartRecording(r.Context(), req)
	if err != nil {
		s.sendServiceError(w, err, "operation", "start_recording")
		return
	}
	sendJSON(w, http.StatusOK, s.phaseResponse())
}

func (s *Server) handlePauseRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.service.PauseRecording(r.Context()); err != nil {
		s.sendServiceError(w, err, "operation", "pause_recording")
		return
	}
	sendJSON(w, http.StatusOK, s.phaseResponse())
}

func (s *Server) handleResumeRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ResumeRecording(r.Context()); err != nil {
		s.sendServiceError(w, err, "operation", "resume_recording")
		return
	}
	sendJSON(w, http.StatusOK, s.phaseResponse())
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.StopRecording(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "operation", "stop_recording")
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "recording": rec})
}

func (s *Server) handleCancelRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelRecording(r.Context()); err != nil {
		s.sendServiceError(w, err, "operation", "cancel_recording")
		return
	}
	sendJSON(w, http.StatusOK, s.phaseResponse())
}

func (s *Server) sendPlayback(w http.ResponseWriter, st playback.State, err error, operation string) {
	if err != nil {
		s.sendServiceError(w, err, "operation", operation)
		return
	}
	sendJSON(w, http.StatusOK, PlaybackResponse{Success: true, State: st})
}

func (s *Server) handlePlaybackStatus(w http.ResponseWriter, r *http.Request) {
	s.sendPlayback(w, s.service.PlaybackState(), nil, "playback_status")
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Expand(r.Context(), mux.Vars(r)["id"])
	s.sendPlayback(w, st, err, "expand")
}

func (s *Server) handleCollapse(w http.ResponseWriter, r *http.Request) {
	s.sendPlayback(w, s.service.Collapse(r.Context()), nil, "collapse")
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.TogglePlayback(r.Context())
	s.sendPlayback(w, st, err, "toggle")
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendServiceError(w, err, "operation", "seek")
		return
	}
	st, err := s.service.Seek(r.Context(), req.Percent)
	s.sendPlayback(w, st, err, "seek")
}

func (s *Server) handleSkipForward(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.SkipForward(r.Context())
	s.sendPlayback(w, st, err, "skip_forward")
}

func (s *Server) handleSkipBackward(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.SkipBackward(r.Context())
	s.sendPlayback(w, st, err, "skip_backward")
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	folder := model.AllFolder
	if id := r.URL.Query().Get("folder"); id != "" {
		folder = model.ParseFolderRef(id)
	}
	recs, err := s.service.ListRecordings(r.Context(), folder)
	if err != nil {
		s.sendServiceError(w, err, "operation", "list_recordings")
		return
	}
	if recs == nil {
		recs = []*model.Recording{}
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"recordings": recs, "total_count": len(recs)})
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.GetRecording(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, err, "operation", "get_recording")
		return
	}
	sendJSON(w, http.StatusOK, rec)
}

// handleRecordingFile streams the audio file of a recording.
func (s *Server) handleRecordingFile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.GetRecording(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, err, "operation", "recording_file")
		return
	}
	file, err := os.Open(rec.FilePath)
	if err != nil {
		s.sendServiceError(w, model.E(model.KindFileNotFound, "recording file is unavailable", err), "path", rec.FilePath)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		s.sendServiceError(w, model.E(model.KindFileSystem, "recording file is unreadable", err), "path", rec.FilePath)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(rec.FilePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filepath.Base(rec.FilePath)))
	}
	http.ServeContent(w, r, filepath.Base(rec.FilePath), info.ModTime(), file)
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.ToggleFavorite(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, err, "operation", "toggle_favorite")
		return
	}
	sendJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSetTags(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendServiceError(w, err, "operation", "set_tags")
		return
	}
	rec, err := s.service.SetTags(r.Context(), mux.Vars(r)["id"], req.Tags)
	if err != nil {
		s.sendServiceError(w, err, "operation", "set_tags")
		return
	}
	sendJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.DeleteRecording(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, err, "operation", "delete_recording")
		return
	}
	sendJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecordings(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil || len(req.IDs) == 0 {
		s.sendErrorResponse(w, http.StatusBadRequest, "ids are required", "operation", "delete_recordings")
		return
	}
	result, err := s.service.DeleteRecordings(r.Context(), req.IDs)
	if err != nil {
		s.sendServiceError(w, err, "operation", "delete_recordings")
		return
	}
	sendJSON(w, http.StatusOK, result)
}

func (s *Server) handleMoveRecordings(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil || len(req.IDs) == 0 || strings.TrimSpace(req.FolderID) == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "ids and folder_id are required", "operation", "move_recordings")
		return
	}
	result, err := s.service.MoveRecordings(r.Context(), req.IDs, req.FolderID)
	if err != nil {
		s.sendServiceError(w, err, "operation", "move_recordings")
		return
	}
	sendJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTrash(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListTrash(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "operation", "list_trash")
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"recordings": entries, "total_count": len(entries)})
}

func (s *Server) handleEmptyTrash(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.EmptyTrash(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "operation", "empty_trash")
		return
	}
	sendJSON(w, http.StatusOK, result)
}

func (s *Server) handleSweepTrash(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.SweepTrash(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "operation", "sweep_trash")
		return
	}
	sendJSON(w, http.StatusOK, report)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.RestoreRecording(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, err, "operation", "restore")
		return
	}
	sendJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePermanentDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.PermanentlyDelete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.sendServiceError(w, err, "operation", "permanent_delete")
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.service.ListFolders(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "operation", "list_folders")
		return
	}
	if folders == nil {
		folders = []*model.Folder{}
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"folders": folders})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendServiceError(w, err, "operation", "create_folder")
		return
	}
	folder, err := s.service.CreateFolder(r.Context(), req.Name)
	if err != nil {
		s.sendServiceError(w, err, "operation", "create_folder")
		return
	}
	sendJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleReconcileFolders(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ReconcileFolders(r.Context()); err != nil {
		s.sendServiceError(w, err, "operation", "reconcile_folders")
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
