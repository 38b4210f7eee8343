// Package hls parses HLS master and media playlists.
package hls

import (
	"bufio"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Variant is one rendition advertised by a master playlist.
type Variant struct {
	// URL is the media playlist location, resolved against the master's URL.
	URL string

	// Height from RESOLUTION=WxH, -1 when absent.
	Height int

	// FrameRate from FRAME-RATE, 0 when absent.
	FrameRate float64

	// Bandwidth from BANDWIDTH, -1 when absent.
	Bandwidth int
}

// MediaPlaylist is the parsed form of a media playlist.
type MediaPlaylist struct {
	// MediaSequence from EXT-X-MEDIA-SEQUENCE. HasSequence reports whether
	// the tag was present at all.
	MediaSequence uint64
	HasSequence   bool

	// SegmentURIs in document order, unresolved.
	SegmentURIs []string

	// Ended reports EXT-X-ENDLIST.
	Ended bool
}

// ParseMaster extracts the variants of a master playlist. Returns an empty
// slice when the document carries no EXT-X-STREAM-INF tag, which is how a
// media playlist handed to us by mistake is detected.
func ParseMaster(text, baseURL string) ([]Variant, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}

	var (
		variants []Variant
		pending  *Variant
	)

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			v := parseStreamInf(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			pending = &v
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		// First non-comment line after STREAM-INF is the rendition URI.
		if pending != nil {
			pending.URL = resolveURL(base, line)
			variants = append(variants, *pending)
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning master playlist: %w", err)
	}

	return variants, nil
}

// parseStreamInf reads the attribute list of one EXT-X-STREAM-INF tag.
func parseStreamInf(attrs string) Variant {
	v := Variant{Height: -1, Bandwidth: -1}

	for _, attr := range splitAttributes(attrs) {
		key, value, ok := strings.Cut(attr, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)

		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "RESOLUTION":
			if _, h, ok := strings.Cut(value, "x"); ok {
				if n, err := strconv.Atoi(h); err == nil {
					v.Height = n
				}
			}
		case "BANDWIDTH":
			if n, err := strconv.Atoi(value); err == nil {
				v.Bandwidth = n
			}
		case "FRAME-RATE":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				v.FrameRate = f
			}
		}
	}
	return v
}

// splitAttributes splits an m3u8 attribute list on commas outside quotes.
func splitAttributes(s string) []string {
	var (
		out      []string
		start    int
		inQuotes bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// ParseMedia extracts the media sequence number and segment URIs of a media
// playlist.
func ParseMedia(text string) (MediaPlaylist, error) {
	var pl MediaPlaylist

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			raw := strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:")
			n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return pl, fmt.Errorf("parsing media sequence %q: %w", raw, err)
			}
			pl.MediaSequence = n
			pl.HasSequence = true
		case line == "#EXT-X-ENDLIST":
			pl.Ended = true
		case strings.HasPrefix(line, "#"):
			// Other tags are irrelevant here.
		default:
			pl.SegmentURIs = append(pl.SegmentURIs, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return pl, fmt.Errorf("scanning media playlist: %w", err)
	}

	return pl, nil
}

// ResolveURL resolves a possibly relative playlist or segment URI against a
// base URL. A malformed ref is returned unchanged.
func ResolveURL(baseURL, ref string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	return resolveURL(base, ref)
}

func resolveURL(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

// Quality selection modes.
const (
	QualityBest       = "best"
	QualityPrefer1080 = "prefer1080"
)

// SelectVariant picks a rendition per the configured quality policy.
// Returns false when variants is empty.
func SelectVariant(variants []Variant, quality string) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}

	if quality == QualityPrefer1080 {
		var candidates []Variant
		for _, v := range variants {
			if v.Height >= 1080 {
				candidates = append(candidates, v)
			}
		}
		if len(candidates) > 0 {
			sort.Slice(candidates, func(i, j int) bool {
				return lessVariant(candidates[i], candidates[j])
			})
			return candidates[0], true
		}
	}

	best := variants[0]
	for _, v := range variants[1:] {
		if lessVariant(best, v) {
			best = v
		}
	}
	return best, true
}

// lessVariant orders by the (height, frameRate, bandwidth) tuple.
func lessVariant(a, b Variant) bool {
	if a.Height != b.Height {
		return a.Height < b.Height
	}
	if a.FrameRate != b.FrameRate {
		return a.FrameRate < b.FrameRate
	}
	return a.Bandwidth < b.Bandwidth
}

// RenderMaster writes variants back out as a master playlist. Used to build
// fixtures and to verify parse symmetry.
func RenderMaster(variants []Variant) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, v := range variants {
		b.WriteString("#EXT-X-STREAM-INF:")
		fmt.Fprintf(&b, "BANDWIDTH=%d", v.Bandwidth)
		if v.Height >= 0 {
			fmt.Fprintf(&b, ",RESOLUTION=%dx%d", v.Height*16/9, v.Height)
		}
		if v.FrameRate > 0 {
			fmt.Fprintf(&b, ",FRAME-RATE=%.3f", v.FrameRate)
		}
		b.WriteString("\n")
		b.WriteString(v.URL)
		b.WriteString("\n")
	}
	return b.String()
}
