package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/Vueroeruco/chzzk-recorder/internal/auth"
	"github.com/Vueroeruco/chzzk-recorder/internal/chzzk"
	"github.com/Vueroeruco/chzzk-recorder/internal/hls"
	"github.com/Vueroeruco/chzzk-recorder/pkg/httpclient"
)

// ErrAuthRejected indicates the CDN or API refused the session mid-recording.
var ErrAuthRejected = errors.New("media request rejected, session expired")

// ErrDiskFull indicates free space dropped below the configured floor.
var ErrDiskFull = errors.New("free disk space below configured minimum")

const (
	playlistTimeout  = 10 * time.Second
	segmentHdrWait   = 6 * time.Second
	copyChunkSize    = 64 * 1024
	idleSleep        = 100 * time.Millisecond
	playlistBackoff  = 500 * time.Millisecond
	diskCheckPeriod  = 30 * time.Second
	defaultStallSkip = 15 * time.Second
)

// Options configures a Downloader.
type Options struct {
	Store *auth.Store

	RecordingsDir   string
	ArchiveDir      string
	Quality         string // hls.QualityBest or hls.QualityPrefer1080
	OnStartPrevious string
	LLHLS           bool
	Prefetch        int
	LiveEdgeBias    int
	StallSkip       time.Duration
	MinFreeBytes    int64

	Logger *slog.Logger

	// PlaylistClient and SegmentClient override the default HTTP clients.
	// Used by tests.
	PlaylistClient *httpclient.Client
	SegmentClient  *httpclient.Client

	now func() time.Time
}

// Downloader records one live session. Create with New, drive with Run.
type Downloader struct {
	detail chzzk.LiveDetail
	opts   Options
	logger *slog.Logger

	playlists *httpclient.Client
	segments  *httpclient.Client

	outputPath   string
	bytesWritten atomic.Int64
}

// New prepares a downloader for one live session. The output path is fixed
// here; the file itself is opened by Run.
func New(detail chzzk.LiveDetail, opts Options) *Downloader {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 2
	}
	if opts.LiveEdgeBias < 0 {
		opts.LiveEdgeBias = 0
	}
	if opts.StallSkip <= 0 {
		opts.StallSkip = defaultStallSkip
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	d := &Downloader{
		detail: detail,
		opts:   opts,
		logger: opts.Logger.With(slog.String("channel_id", detail.ChannelID)),
	}

	d.playlists = opts.PlaylistClient
	if d.playlists == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = playlistTimeout
		cfg.RetryAttempts = 0
		cfg.HeaderFunc = opts.Store.Headers
		d.playlists = httpclient.New(cfg)
	}

	d.segments = opts.SegmentClient
	if d.segments == nil {
		cfg := httpclient.DefaultConfig()
		cfg.RetryAttempts = 0
		cfg.HeaderFunc = opts.Store.Headers
		cfg.BaseClient = &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: segmentHdrWait}).DialContext,
				ResponseHeaderTimeout: segmentHdrWait,
				MaxIdleConnsPerHost:   4,
			},
		}
		d.segments = httpclient.New(cfg)
	}

	channelDir := filepath.Join(opts.RecordingsDir, Sanitize(detail.ChannelName))
	name := fmt.Sprintf("%s_%s.ts", Timestamp(opts.now()), Sanitize(detail.LiveTitle))
	d.outputPath = filepath.Join(channelDir, name)

	return d
}

// OutputPath returns the transport-stream file this downloader writes.
func (d *Downloader) OutputPath() string {
	return d.outputPath
}

// BytesWritten returns the running total of bytes appended to the output.
// Monotonically non-decreasing; safe for concurrent reads.
func (d *Downloader) BytesWritten() int64 {
	return d.bytesWritten.Load()
}

// Run executes the recording loop until ctx is cancelled or an unrecoverable
// error occurs. A nil return means a clean externally-requested stop.
func (d *Downloader) Run(ctx context.Context) error {
	mediaURL, err := d.resolveMediaPlaylist(ctx)
	if err != nil {
		return err
	}

	channelDir := filepath.Dir(d.outputPath)
	PrepareChannelDir(channelDir, d.opts.ArchiveDir, d.detail.ChannelName, d.opts.OnStartPrevious, d.opts.now(), d.logger)

	out, err := os.OpenFile(d.outputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening output file: %w", err)
	}
	defer out.Close()

	d.logger.Info("recording started",
		slog.String("output", d.outputPath),
		slog.String("title", d.detail.LiveTitle),
	)

	var (
		currentMsn    uint64
		currentPart   int
		seeded        bool
		lastURI       string
		lastGrowth    = d.opts.now()
		lastGrown     = int64(0)
		lastDiskCheck time.Time
	)
	buf := make([]byte, copyChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		now := d.opts.now()
		if d.opts.MinFreeBytes > 0 && now.Sub(lastDiskCheck) >= diskCheckPeriod {
			lastDiskCheck = now
			if err := d.checkDisk(ctx, channelDir); err != nil {
				return err
			}
		}

		// Internal stall watchdog: skip past a blocked position rather than
		// waiting for the supervisor's much longer restart threshold.
		if written := d.bytesWritten.Load(); written > lastGrown {
			lastGrown = written
			lastGrowth = now
		} else if seeded && now.Sub(lastGrowth) >= d.opts.StallSkip {
			currentMsn++
			currentPart = 0
			lastGrowth = now
			d.logger.Warn("no output growth, skipping ahead",
				slog.Uint64("msn", currentMsn),
			)
		}

		pl, err := d.fetchPlaylist(ctx, mediaURL, currentMsn, currentPart, seeded)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, ErrAuthRejected) {
				return err
			}
			d.logger.Debug("playlist fetch failed, backing off", slog.String("error", err.Error()))
			if err := sleepCtx(ctx, playlistBackoff); err != nil {
				return nil
			}
			continue
		}

		if !seeded && pl.HasSequence {
			currentMsn = pl.MediaSequence + uint64(d.opts.LiveEdgeBias)
			seeded = true
			d.logger.Debug("seeded live edge", slog.Uint64("msn", currentMsn))
		}

		segs := pl.SegmentURIs
		if !pl.HasSequence && lastURI != "" {
			// No sequence tag means no msn to dedupe on; resume after the
			// last appended URI instead of re-fetching the whole window.
			for i := len(segs) - 1; i >= 0; i-- {
				if segs[i] == lastURI {
					segs = segs[i+1:]
					break
				}
			}
		}

		fetched := 0
		for i, uri := range segs {
			if fetched >= d.opts.Prefetch {
				break
			}
			msn := pl.MediaSequence + uint64(i)
			if pl.HasSequence && msn < currentMsn {
				continue
			}

			segURL := hls.ResolveURL(mediaURL, uri)
			if err := d.fetchSegment(ctx, segURL, out, buf); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if errors.Is(err, ErrAuthRejected) {
					return err
				}
				d.logger.Debug("segment fetch failed, advancing",
					slog.String("segment", segURL),
					slog.String("error", err.Error()),
				)
				currentMsn++
				currentPart = 0
				break
			}
			fetched++
			lastURI = uri
			if pl.HasSequence {
				currentMsn = msn + 1
			}
		}

		if pl.Ended {
			d.logger.Info("media playlist ended")
			return nil
		}

		if err := sleepCtx(ctx, idleSleep); err != nil {
			return nil
		}
	}
}

// resolveMediaPlaylist fetches the master URL and selects a rendition. A URL
// that already points at a media playlist is used as-is.
func (d *Downloader) resolveMediaPlaylist(ctx context.Context) (string, error) {
	body, err := d.getBody(ctx, d.playlists, d.detail.MasterPlaylistURL)
	if err != nil {
		return "", fmt.Errorf("fetching master playlist: %w", err)
	}

	variants, err := hls.ParseMaster(string(body), d.detail.MasterPlaylistURL)
	if err != nil {
		return "", fmt.Errorf("parsing master playlist: %w", err)
	}
	if len(variants) == 0 {
		return d.detail.MasterPlaylistURL, nil
	}

	v, _ := hls.SelectVariant(variants, d.opts.Quality)
	d.logger.Info("selected rendition",
		slog.Int("height", v.Height),
		slog.Float64("fps", v.FrameRate),
		slog.Int("bandwidth", v.Bandwidth),
	)
	return v.URL, nil
}

// fetchPlaylist GETs the media playlist, with LL-HLS position hints when on.
func (d *Downloader) fetchPlaylist(ctx context.Context, mediaURL string, msn uint64, part int, seeded bool) (hls.MediaPlaylist, error) {
	reqURL := mediaURL
	if d.opts.LLHLS && seeded {
		if u, err := url.Parse(mediaURL); err == nil {
			q := u.Query()
			q.Set("_HLS_msn", strconv.FormatUint(msn, 10))
			q.Set("_HLS_part", strconv.Itoa(part))
			u.RawQuery = q.Encode()
			reqURL = u.String()
		}
	}

	body, err := d.getBody(ctx, d.playlists, reqURL)
	if err != nil {
		return hls.MediaPlaylist{}, err
	}
	return hls.ParseMedia(string(body))
}

// fetchSegment streams one segment straight into the output file.
func (d *Downloader) fetchSegment(ctx context.Context, segURL string, out io.Writer, buf []byte) error {
	resp, err := d.segments.Get(ctx, segURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: segment status %d", ErrAuthRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("segment status %d", resp.StatusCode)
	}

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing output: %w", werr)
			}
			d.bytesWritten.Add(int64(n))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading segment body: %w", err)
		}
	}
}

// getBody GETs a URL and returns its body, mapping 401/403 to ErrAuthRejected.
func (d *Downloader) getBody(ctx context.Context, client *httpclient.Client, url string) ([]byte, error) {
	resp, err := client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// checkDisk enforces the free-space floor on the recording filesystem.
func (d *Downloader) checkDisk(ctx context.Context, dir string) error {
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		d.logger.Warn("disk usage check failed", slog.String("error", err.Error()))
		return nil
	}
	if int64(usage.Free) < d.opts.MinFreeBytes {
		return fmt.Errorf("%w: %d bytes free", ErrDiskFull, usage.Free)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
