// ABOUTME: Beatsync wire protocol message definitions
// ABOUTME: JSON text frames discriminated by a top-level "type" field
package protocol

import "encoding/json"

// Inbound request types (closed enum).
const (
	TypeNTPRequest          = "NTP_REQUEST"
	TypePlay                = "PLAY"
	TypePause               = "PAUSE"
	TypeSync                = "SYNC"
	TypeStartSpatialAudio   = "START_SPATIAL_AUDIO"
	TypeStopSpatialAudio    = "STOP_SPATIAL_AUDIO"
	TypeReorderClient       = "REORDER_CLIENT"
	TypeSetListeningSource  = "SET_LISTENING_SOURCE"
	TypeMoveClient          = "MOVE_CLIENT"
	TypeSetAdmin            = "SET_ADMIN"
	TypeSetPlaybackControls = "SET_PLAYBACK_CONTROLS"
	TypeSetGlobalVolume     = "SET_GLOBAL_VOLUME"
	TypeSendChatMessage     = "SEND_CHAT_MESSAGE"
	TypeSendIP              = "SEND_IP"
	TypeAudioSourceLoaded   = "AUDIO_SOURCE_LOADED"
	TypeLoadDefaultTracks   = "LOAD_DEFAULT_TRACKS"
	TypeDeleteAudioSources  = "DELETE_AUDIO_SOURCES"
	TypeSearchMusic         = "SEARCH_MUSIC"
	TypeStreamMusic         = "STREAM_MUSIC"
)

// Outbound message types.
const (
	TypeNTPResponse     = "NTP_RESPONSE"
	TypeScheduledAction = "SCHEDULED_ACTION"
	TypeRoomEvent       = "ROOM_EVENT"
	TypeStreamJobUpdate = "STREAM_JOB_UPDATE"
	TypeSearchResponse  = "SEARCH_RESPONSE"
	TypeError           = "ERROR"
)

// Scheduled action variants carried inside SCHEDULED_ACTION.
const (
	ActionPlay               = "PLAY"
	ActionPause              = "PAUSE"
	ActionSpatialConfig      = "SPATIAL_CONFIG"
	ActionStopSpatialAudio   = "STOP_SPATIAL_AUDIO"
	ActionGlobalVolumeConfig = "GLOBAL_VOLUME_CONFIG"
)

// Room event variants carried inside ROOM_EVENT.
const (
	EventClientChange        = "CLIENT_CHANGE"
	EventSetAudioSources     = "SET_AUDIO_SOURCES"
	EventSetPlaybackControls = "SET_PLAYBACK_CONTROLS"
	EventChatUpdate          = "CHAT_UPDATE"
	EventLoadAudioSource     = "LOAD_AUDIO_SOURCE"
)

// Permissions controls who may mutate room state besides admins.
type Permissions string

const (
	PermissionsEveryone  Permissions = "EVERYONE"
	PermissionsAdminOnly Permissions = "ADMIN_ONLY"
)

// Playback state discriminators.
const (
	PlaybackPaused  = "paused"
	PlaybackPlaying = "playing"
)

// Grid bounds for client positions. Positions must lie in [0,GridSize]^2;
// the listening source orbits around the origin.
const (
	GridSize    = 100.0
	GridOriginX = 50.0
	GridOriginY = 50.0
)

// Chat limits.
const (
	MaxChatMessageLength = 500
	ChatHistoryCap       = 300
)

// Position is a point on the room grid.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Location is a coarse geo location reported by a client via SEND_IP.
type Location struct {
	City        string `json:"city,omitempty"`
	Region      string `json:"region,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	FlagSvgURL  string `json:"flagSvgUrl,omitempty"`
}

// ClientData is the presence view of one connected client.
type ClientData struct {
	ClientID        string    `json:"clientId"`
	Username        string    `json:"username"`
	IsAdmin         bool      `json:"isAdmin"`
	RTT             float64   `json:"rtt"`
	Position        Position  `json:"position"`
	LastNTPResponse int64     `json:"lastNtpResponse"`
	JoinedAt        int64     `json:"joinedAt"`
	Location        *Location `json:"location,omitempty"`
}

// AudioSource is one entry of the room queue. The URL is opaque to the
// coordinator; clients fetch it directly.
type AudioSource struct {
	URL string `json:"url"`
}

// PlaybackState is the room's authoritative playback position.
type PlaybackState struct {
	Type                 string  `json:"type"`
	AudioSource          string  `json:"audioSource"`
	ServerTimeToExecute  int64   `json:"serverTimeToExecute"`
	TrackPositionSeconds float64 `json:"trackPositionSeconds"`
}

// InitialPlaybackState returns the paused zero state.
func InitialPlaybackState() PlaybackState {
	return PlaybackState{Type: PlaybackPaused}
}

// ChatMessage is one entry of a room's rolling chat buffer.
type ChatMessage struct {
	ID          uint64 `json:"id"`
	ClientID    string `json:"clientId"`
	Username    string `json:"username"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"`
	CountryCode string `json:"countryCode,omitempty"`
}

// GainConfig is the spatial gain applied to one client.
type GainConfig struct {
	Gain     float64 `json:"gain"`
	RampTime float64 `json:"rampTime"`
}

// ScheduledAction instructs every client to act at a shared server timestamp.
type ScheduledAction struct {
	Type                string          `json:"type"`
	ServerTimeToExecute int64           `json:"serverTimeToExecute"`
	ScheduledAction     json.RawMessage `json:"scheduledAction"`
}

// PlayAction is the payload of a SCHEDULED_ACTION PLAY.
type PlayAction struct {
	Type             string  `json:"type"`
	AudioSource      string  `json:"audioSource"`
	TrackTimeSeconds float64 `json:"trackTimeSeconds"`
}

// PauseAction is the payload of a SCHEDULED_ACTION PAUSE. AudioSource may be
// empty when the paused track was deleted.
type PauseAction struct {
	Type             string  `json:"type"`
	AudioSource      string  `json:"audioSource,omitempty"`
	TrackTimeSeconds float64 `json:"trackTimeSeconds"`
}

// SpatialConfigAction carries per-client gains and the listening source.
type SpatialConfigAction struct {
	Type            string                `json:"type"`
	ListeningSource Position              `json:"listeningSource"`
	Gains           map[string]GainConfig `json:"gains"`
}

// StopSpatialAction tells clients to fall back to global volume only.
type StopSpatialAction struct {
	Type string `json:"type"`
}

// GlobalVolumeAction ramps every client to the same volume.
type GlobalVolumeAction struct {
	Type     string  `json:"type"`
	Volume   float64 `json:"volume"`
	RampTime float64 `json:"rampTime"`
}

// RoomEvent wraps room-scoped state updates.
type RoomEvent struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

// ClientChangeEvent carries the full connected-client presence list.
type ClientChangeEvent struct {
	Type    string       `json:"type"`
	Clients []ClientData `json:"clients"`
}

// SetAudioSourcesEvent replaces the client's view of the queue.
type SetAudioSourcesEvent struct {
	Type               string        `json:"type"`
	Sources            []AudioSource `json:"sources"`
	CurrentAudioSource string        `json:"currentAudioSource,omitempty"`
}

// SetPlaybackControlsEvent announces a permission mode change.
type SetPlaybackControlsEvent struct {
	Type        string      `json:"type"`
	Permissions Permissions `json:"permissions"`
}

// ChatUpdateEvent delivers new chat messages, or the full history on join.
type ChatUpdateEvent struct {
	Type       string        `json:"type"`
	Messages   []ChatMessage `json:"messages"`
	IsFullSync bool          `json:"isFullSync"`
	NewestID   uint64        `json:"newestId"`
}

// LoadAudioSourceEvent asks clients to decode a track ahead of playback.
type LoadAudioSourceEvent struct {
	Type              string `json:"type"`
	AudioSourceToPlay string `json:"audioSourceToPlay"`
}

// NTPResponse answers a time-sync probe. T0 is echoed from the client, T1 is
// the server receive timestamp, T2 the server send timestamp (epoch ms).
type NTPResponse struct {
	Type string `json:"type"`
	T0   int64  `json:"t0"`
	T1   int64  `json:"t1"`
	T2   int64  `json:"t2"`
}

// StreamJobUpdate reports the number of in-flight provider stream jobs.
type StreamJobUpdate struct {
	Type           string `json:"type"`
	ActiveJobCount int    `json:"activeJobCount"`
}

// SearchResponse returns the provider's search payload verbatim.
type SearchResponse struct {
	Type    string          `json:"type"`
	Results json.RawMessage `json:"results"`
}

// ErrorMessage is the only error surface a client ever sees.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds the standard validation error frame.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// NewScheduledAction wraps an action payload with its execution timestamp.
func NewScheduledAction(executeAt int64, action any) (ScheduledAction, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return ScheduledAction{}, err
	}
	return ScheduledAction{
		Type:                TypeScheduledAction,
		ServerTimeToExecute: executeAt,
		ScheduledAction:     raw,
	}, nil
}

// NewRoomEvent wraps an event payload.
func NewRoomEvent(event any) (RoomEvent, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return RoomEvent{}, err
	}
	return RoomEvent{Type: TypeRoomEvent, Event: raw}, nil
}
