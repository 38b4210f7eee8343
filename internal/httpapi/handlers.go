package httpapi

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/Vueroeruco/chzzk-recorder/internal/history"
	"github.com/Vueroeruco/chzzk-recorder/internal/supervisor"
)

// StatusSource reports active recordings. supervisor.Supervisor satisfies it.
type StatusSource interface {
	Status() []supervisor.RecordingStatus
}

// HistorySource lists past recordings. history.Store satisfies it.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]history.Recording, error)
}

// Handler serves the API operations.
type Handler struct {
	version       string
	startTime     time.Time
	recordingsDir string

	status      StatusSource
	hist        HistorySource
	lastRefresh func() time.Time
}

// NewHandler wires the API against the running services. lastRefresh may be
// nil when no session refresher is configured.
func NewHandler(version, recordingsDir string, status StatusSource, hist HistorySource, lastRefresh func() time.Time) *Handler {
	return &Handler{
		version:       version,
		startTime:     time.Now(),
		recordingsDir: recordingsDir,
		status:        status,
		hist:          hist,
		lastRefresh:   lastRefresh,
	}
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Timestamp     string  `json:"timestamp"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type healthOutput struct {
	Body HealthResponse
}

// DiskStatus reports space on the recordings filesystem.
type DiskStatus struct {
	Path        string  `json:"path"`
	FreeBytes   uint64  `json:"free_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// StatusResponse is the status endpoint body.
type StatusResponse struct {
	Active      []supervisor.RecordingStatus `json:"active"`
	Disk        *DiskStatus                  `json:"disk,omitempty"`
	LastRefresh *time.Time                   `json:"last_session_refresh,omitempty"`
}

type statusOutput struct {
	Body StatusResponse
}

// RecordingEntry is one row of the recordings listing.
type RecordingEntry struct {
	ID           string     `json:"id"`
	ChannelID    string     `json:"channel_id"`
	ChannelName  string     `json:"channel_name"`
	Title        string     `json:"title"`
	VideoID      string     `json:"video_id,omitempty"`
	OutputPath   string     `json:"output_path"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	BytesWritten int64      `json:"bytes_written"`
	EndReason    string     `json:"end_reason,omitempty"`
}

type recordingsInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum rows to return"`
}

type recordingsOutput struct {
	Body struct {
		Recordings []RecordingEntry `json:"recordings"`
	}
}

// Register mounts all operations.
func (h *Handler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.getHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/api/v1/status",
		Summary:     "Active recordings and disk state",
		Tags:        []string{"Recordings"},
	}, h.getStatus)

	huma.Register(api, huma.Operation{
		OperationID: "listRecordings",
		Method:      "GET",
		Path:        "/api/v1/recordings",
		Summary:     "Recent recording history",
		Tags:        []string{"Recordings"},
	}, h.listRecordings)
}

func (h *Handler) getHealth(ctx context.Context, _ *struct{}) (*healthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)
	return &healthOutput{Body: HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
	}}, nil
}

func (h *Handler) getStatus(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	resp := StatusResponse{Active: h.status.Status()}

	if usage, err := disk.UsageWithContext(ctx, h.recordingsDir); err == nil {
		resp.Disk = &DiskStatus{
			Path:        h.recordingsDir,
			FreeBytes:   usage.Free,
			TotalBytes:  usage.Total,
			UsedPercent: usage.UsedPercent,
		}
	}

	if h.lastRefresh != nil {
		if t := h.lastRefresh(); !t.IsZero() {
			resp.LastRefresh = &t
		}
	}

	return &statusOutput{Body: resp}, nil
}

func (h *Handler) listRecordings(ctx context.Context, in *recordingsInput) (*recordingsOutput, error) {
	recs, err := h.hist.Recent(ctx, in.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing recordings", err)
	}

	out := &recordingsOutput{}
	out.Body.Recordings = make([]RecordingEntry, 0, len(recs))
	for _, r := range recs {
		out.Body.Recordings = append(out.Body.Recordings, RecordingEntry{
			ID:           r.ID,
			ChannelID:    r.ChannelID,
			ChannelName:  r.ChannelName,
			Title:        r.Title,
			VideoID:      r.VideoID,
			OutputPath:   r.OutputPath,
			StartedAt:    r.StartedAt,
			EndedAt:      r.EndedAt,
			BytesWritten: r.BytesWritten,
			EndReason:    r.EndReason,
		})
	}
	return out, nil
}
