// ABOUTME: Inbound request payloads and their validation rules
// ABOUTME: A frame failing validation is answered with the standard ERROR reply
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid marks any frame that fails schema validation. The sender gets
// the generic ERROR reply and the frame is dropped.
var ErrInvalid = errors.New("invalid message format")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// PeekType extracts the discriminator from a raw frame.
func PeekType(raw []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", invalidf("not a JSON object: %v", err)
	}
	if head.Type == "" {
		return "", invalidf("missing type")
	}
	return head.Type, nil
}

// Decode unmarshals raw into dst and validates it if dst implements Validator.
func Decode(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidf("bad payload: %v", err)
	}
	if v, ok := dst.(Validator); ok {
		return v.Validate()
	}
	return nil
}

// Validator is implemented by requests that carry range-checked fields.
type Validator interface {
	Validate() error
}

// NTPRequest is a time-sync probe. T0 is the client send timestamp in its own
// epoch-ms clock. RTT optionally reports the client's current round-trip
// estimate so the server can schedule against the worst peer.
type NTPRequest struct {
	Type string  `json:"type"`
	T0   int64   `json:"t0"`
	RTT  float64 `json:"rtt,omitempty"`
}

func (r *NTPRequest) Validate() error {
	if r.RTT < 0 {
		return invalidf("negative rtt")
	}
	return nil
}

// PlayRequest starts scheduled playback of a queued track.
type PlayRequest struct {
	Type             string  `json:"type"`
	AudioSource      string  `json:"audioSource"`
	TrackTimeSeconds float64 `json:"trackTimeSeconds"`
}

func (r *PlayRequest) Validate() error {
	if r.AudioSource == "" {
		return invalidf("missing audioSource")
	}
	if r.TrackTimeSeconds < 0 {
		return invalidf("negative trackTimeSeconds")
	}
	return nil
}

// PauseRequest pauses playback at a track position.
type PauseRequest struct {
	Type             string  `json:"type"`
	AudioSource      string  `json:"audioSource"`
	TrackTimeSeconds float64 `json:"trackTimeSeconds"`
}

func (r *PauseRequest) Validate() error {
	if r.TrackTimeSeconds < 0 {
		return invalidf("negative trackTimeSeconds")
	}
	return nil
}

// SyncRequest asks for a unicast resume point (late joiner).
type SyncRequest struct {
	Type string `json:"type"`
}

// StartSpatialRequest / StopSpatialRequest toggle the spatial loop.
type StartSpatialRequest struct {
	Type string `json:"type"`
}

type StopSpatialRequest struct {
	Type string `json:"type"`
}

// ReorderClientRequest moves a client to the front of the room ordering.
type ReorderClientRequest struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

func (r *ReorderClientRequest) Validate() error {
	if r.ClientID == "" {
		return invalidf("missing clientId")
	}
	return nil
}

// SetListeningSourceRequest repositions the virtual listener.
type SetListeningSourceRequest struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

func (r *SetListeningSourceRequest) Validate() error {
	return validatePosition(r.X, r.Y)
}

// MoveClientRequest repositions the sending client on the grid.
type MoveClientRequest struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

func (r *MoveClientRequest) Validate() error {
	return validatePosition(r.X, r.Y)
}

// SetAdminRequest grants or revokes admin on another client.
type SetAdminRequest struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	IsAdmin  bool   `json:"isAdmin"`
}

func (r *SetAdminRequest) Validate() error {
	if r.ClientID == "" {
		return invalidf("missing clientId")
	}
	return nil
}

// SetPlaybackControlsRequest switches the room permission mode.
type SetPlaybackControlsRequest struct {
	Type        string      `json:"type"`
	Permissions Permissions `json:"permissions"`
}

func (r *SetPlaybackControlsRequest) Validate() error {
	switch r.Permissions {
	case PermissionsEveryone, PermissionsAdminOnly:
		return nil
	}
	return invalidf("unknown permissions %q", r.Permissions)
}

// SetGlobalVolumeRequest sets the room-wide volume.
type SetGlobalVolumeRequest struct {
	Type   string  `json:"type"`
	Volume float64 `json:"volume"`
}

func (r *SetGlobalVolumeRequest) Validate() error {
	if r.Volume < 0 || r.Volume > 1 {
		return invalidf("volume out of range")
	}
	return nil
}

// SendChatMessageRequest appends to the room chat.
type SendChatMessageRequest struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (r *SendChatMessageRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return invalidf("empty chat text")
	}
	if len(r.Text) > MaxChatMessageLength {
		return invalidf("chat text exceeds %d bytes", MaxChatMessageLength)
	}
	return nil
}

// SendIPRequest reports the client's resolved location.
type SendIPRequest struct {
	Type        string `json:"type"`
	City        string `json:"city"`
	Region      string `json:"region"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
}

// AudioSourceLoadedRequest confirms a client finished decoding a track.
type AudioSourceLoadedRequest struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func (r *AudioSourceLoadedRequest) Validate() error {
	if r.URL == "" {
		return invalidf("missing url")
	}
	return nil
}

// LoadDefaultTracksRequest appends the server's default track list.
type LoadDefaultTracksRequest struct {
	Type string `json:"type"`
}

// DeleteAudioSourcesRequest removes tracks (and their blobs, if room-owned).
type DeleteAudioSourcesRequest struct {
	Type string   `json:"type"`
	URLs []string `json:"urls"`
}

func (r *DeleteAudioSourcesRequest) Validate() error {
	if len(r.URLs) == 0 {
		return invalidf("missing urls")
	}
	for _, u := range r.URLs {
		if u == "" {
			return invalidf("empty url")
		}
	}
	return nil
}

// SearchMusicRequest queries the provider.
type SearchMusicRequest struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

func (r *SearchMusicRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return invalidf("empty query")
	}
	return nil
}

// StreamMusicRequest asks the server to resolve a provider track into the
// room queue. Resolution runs as an async stream job.
type StreamMusicRequest struct {
	Type    string `json:"type"`
	TrackID string `json:"trackId"`
	Name    string `json:"name,omitempty"`
}

func (r *StreamMusicRequest) Validate() error {
	if r.TrackID == "" {
		return invalidf("missing trackId")
	}
	return nil
}

func validatePosition(x, y float64) error {
	if x < 0 || x > GridSize || y < 0 || y > GridSize {
		return invalidf("position outside grid")
	}
	return nil
}
