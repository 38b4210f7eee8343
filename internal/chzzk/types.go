package chzzk

// LiveDetail is an immutable snapshot of one successful live poll.
type LiveDetail struct {
	ChannelID         string
	ChannelName       string
	LiveTitle         string
	VideoID           string
	MasterPlaylistURL string
	Adult             bool
}

// FollowedChannel is one entry from the followings listing.
type FollowedChannel struct {
	ChannelID   string
	ChannelName string
	Live        bool
}

// liveDetailEnvelope mirrors the live-detail API response body.
type liveDetailEnvelope struct {
	Code    int          `json:"code"`
	Content *liveContent `json:"content"`
}

type liveContent struct {
	Status           string `json:"status"`
	Adult            bool   `json:"adult"`
	LiveTitle        string `json:"liveTitle"`
	LivePlaybackJSON string `json:"livePlaybackJson"`
	Channel          struct {
		ChannelID   string `json:"channelId"`
		ChannelName string `json:"channelName"`
	} `json:"channel"`
}

// livePlayback mirrors the stringified playback JSON inside live-detail.
type livePlayback struct {
	Media []struct {
		MediaID string `json:"mediaId"`
		Path    string `json:"path"`
	} `json:"media"`
	Meta struct {
		VideoID string `json:"videoId"`
	} `json:"meta"`
}

// followingsEnvelope mirrors the followings API response body.
type followingsEnvelope struct {
	Content struct {
		FollowingList []struct {
			Channel struct {
				ChannelID   string `json:"channelId"`
				ChannelName string `json:"channelName"`
			} `json:"channel"`
			Streamer struct {
				OpenLive bool `json:"openLive"`
			} `json:"streamer"`
		} `json:"followingList"`
	} `json:"content"`
}
