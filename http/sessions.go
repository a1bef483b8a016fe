package http

import (
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/raido/models"
	"github.com/aukilabs/raido/occupancy"
)

type sessionSummary struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	Participants int             `json:"participants"`
	VoxelSize    float64         `json:"voxel_size"`
	Stats        occupancy.Stats `json:"stats"`
}

// HandleSessions lists the hosted sessions with their map statistics,
// oldest first.
func HandleSessions(store *models.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries := make([]sessionSummary, 0, store.Len())
		store.Range(func(s *models.Session) bool {
			summaries = append(summaries, sessionSummary{
				ID:           s.ID,
				CreatedAt:    s.CreatedAt,
				Participants: s.ParticipantCount(),
				VoxelSize:    s.Map.VoxelSize(),
				Stats:        s.Map.Stats(),
			})
			return true
		})

		sort.Slice(summaries, func(i, j int) bool {
			if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
				return summaries[i].ID < summaries[j].ID
			}
			return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
		})

		JSON(w, http.StatusOK, summaries)
	}
}

// HandleSessionSnapshot serves /sessions/{id}/snapshot. GET downloads the
// session map in its snapshot wire format. POST restores an uploaded
// snapshot into a new session under the given id; restoring over a live
// session is refused since its participants keep a handle on the old map.
func HandleSessionSnapshot(store *models.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := snapshotPathID(r.URL.Path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch r.Method {
		case http.MethodGet:
			session, ok := store.Get(id)
			if !ok {
				Error(w, http.StatusNotFound, errors.New("session not found").
					WithTag("session_id", id))
				return
			}

			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(session.Map.Snapshot())

		case http.MethodPost:
			if _, ok := store.Get(id); ok {
				Error(w, http.StatusConflict, errors.New("session already exists").
					WithTag("session_id", id))
				return
			}

			b, err := io.ReadAll(r.Body)
			if err != nil {
				Error(w, http.StatusInternalServerError, errors.New("reading snapshot failed").
					Wrap(err))
				return
			}

			grid, err := occupancy.FromSnapshot(b)
			if err != nil {
				Error(w, http.StatusBadRequest, err)
				return
			}

			store.Add(models.NewSession(id, grid))
			w.WriteHeader(http.StatusCreated)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func snapshotPathID(path string) (string, bool) {
	p := strings.TrimPrefix(path, "/sessions/")
	id, op, ok := strings.Cut(p, "/")
	if !ok || id == "" || op != "snapshot" {
		return "", false
	}
	return id, true
}
