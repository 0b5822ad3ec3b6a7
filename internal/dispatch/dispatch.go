// ABOUTME: Routes inbound WebSocket frames to room operations
// ABOUTME: Applies validation and the permission gates before touching state
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/beatsync/beatsync-go/internal/clock"
	blog "github.com/beatsync/beatsync-go/internal/log"
	"github.com/beatsync/beatsync-go/internal/metrics"
	"github.com/beatsync/beatsync-go/internal/protocol"
	"github.com/beatsync/beatsync-go/internal/provider"
	"github.com/beatsync/beatsync-go/internal/room"
	"github.com/beatsync/beatsync-go/internal/session"
)

const jobTimeout = 30 * time.Second

// Dispatcher is shared by every connection; it holds no per-room state.
type Dispatcher struct {
	clk           *clock.Clock
	rooms         *room.Registry
	provider      *provider.Client
	defaultTracks []string
	log           zerolog.Logger
}

// New wires the dispatcher. prov may be nil when no provider is configured.
func New(clk *clock.Clock, rooms *room.Registry, prov *provider.Client, defaultTracks []string) *Dispatcher {
	return &Dispatcher{
		clk:           clk,
		rooms:         rooms,
		provider:      prov,
		defaultTracks: defaultTracks,
		log:           blog.WithComponent("dispatch"),
	}
}

// Dispatch handles one inbound frame. receivedAt is the server timestamp taken
// in the read loop before any parsing, so NTP T1 excludes decode time.
func (d *Dispatcher) Dispatch(sess *session.Session, raw []byte, receivedAt int64) {
	typ, err := protocol.PeekType(raw)
	if err != nil {
		d.reject(sess, err)
		return
	}
	metrics.FramesTotal.WithLabelValues(typ).Inc()

	r := d.rooms.Get(sess.RoomID)
	if r == nil {
		_ = sess.Send(protocol.NewError("room no longer exists"))
		return
	}

	switch typ {
	case protocol.TypeNTPRequest:
		var req protocol.NTPRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		r.RecordNTP(sess.ClientID, req.RTT)
		_ = sess.Send(protocol.NTPResponse{
			Type: protocol.TypeNTPResponse,
			T0:   req.T0,
			T1:   receivedAt,
			T2:   d.clk.NowMs(),
		})

	case protocol.TypePlay:
		var req protocol.PlayRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		if !d.allowMutate(r, sess, typ) {
			return
		}
		r.HandlePlay(sess.ClientID, req)

	case protocol.TypePause:
		var req protocol.PauseRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		if !d.allowMutate(r, sess, typ) {
			return
		}
		r.HandlePause(req)

	case protocol.TypeSync:
		r.HandleSync(sess)

	case protocol.TypeStartSpatialAudio:
		if !d.allowMutate(r, sess, typ) {
			return
		}
		r.StartSpatial()

	case protocol.TypeStopSpatialAudio:
		if !d.allowMutate(r, sess, typ) {
			return
		}
		r.StopSpatial()

	case protocol.TypeReorderClient:
		var req protocol.ReorderClientRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		if !d.allowMutate(r, sess, typ) {
			return
		}
		r.ReorderClient(req.ClientID)

	case protocol.TypeSetListeningSource:
		var req protocol.SetListeningSourceRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		if !d.allowMutate(r, sess, typ) {
			return
		}
		r.SetListeningSource(protocol.Position{X: req.X, Y: req.Y})

	case protocol.TypeMoveClient:
		var req protocol.MoveClientRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		if !d.allowMutate(r, sess, typ) {
			return
		}
		r.MoveClient(sess.ClientID, protocol.Position{X: req.X, Y: req.Y})

	case protocol.TypeSetAdmin:
		var req protocol.SetAdminRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		if !d.allowAdmin(r, sess, typ) {
			return
		}
		r.SetAdmin(req.ClientID, req.IsAdmin)

	case protocol.TypeSetPlaybackControls:
		var req protocol.SetPlaybackControlsRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		if !d.allowAdmin(r, sess, typ) {
			return
		}
		r.SetPlaybackControls(req.Permissions)

	case protocol.TypeSetGlobalVolume:
		var req protocol.SetGlobalVolumeRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		if !d.allowMutate(r, sess, typ) {
			return
		}
		r.SetGlobalVolume(req.Volume)

	case protocol.TypeSendChatMessage:
		var req protocol.SendChatMessageRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		r.SendChat(sess.ClientID, req.Text)

	case protocol.TypeSendIP:
		var req protocol.SendIPRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		r.SetLocation(sess.ClientID, protocol.Location{
			City:        req.City,
			Region:      req.Region,
			Country:     req.Country,
			CountryCode: req.CountryCode,
		})

	case protocol.TypeAudioSourceLoaded:
		var req protocol.AudioSourceLoadedRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		r.HandleAudioLoaded(sess.ClientID, req.URL)

	case protocol.TypeLoadDefaultTracks:
		if !d.allowMutate(r, sess, typ) {
			return
		}
		r.AddAudioSources(d.defaultTracks...)

	case protocol.TypeDeleteAudioSources:
		var req protocol.DeleteAudioSourcesRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		if !d.allowMutate(r, sess, typ) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		r.DeleteAudioSources(ctx, req.URLs)

	case protocol.TypeSearchMusic:
		var req protocol.SearchMusicRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		d.searchMusic(sess, req.Query)

	case protocol.TypeStreamMusic:
		var req protocol.StreamMusicRequest
		if err := protocol.Decode(raw, &req); err != nil {
			d.reject(sess, err)
			return
		}
		d.streamMusic(r, sess, req)

	default:
		d.reject(sess, protocol.ErrInvalid)
	}
}

// searchMusic queries the provider off the read loop and unicasts the result.
func (d *Dispatcher) searchMusic(sess *session.Session, query string) {
	if d.provider == nil {
		_ = sess.Send(protocol.NewError("music provider not configured"))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		results, err := d.provider.Search(ctx, query)
		if err != nil {
			d.log.Error().Err(err).Str("query", query).Msg("search failed")
			_ = sess.Send(protocol.NewError("search failed"))
			return
		}
		_ = sess.Send(protocol.SearchResponse{
			Type:    protocol.TypeSearchResponse,
			Results: results,
		})
	}()
}

// streamMusic resolves a provider track asynchronously. The room-wide job
// counter goes up before the goroutine starts and always comes back down.
func (d *Dispatcher) streamMusic(r *room.Room, sess *session.Session, req protocol.StreamMusicRequest) {
	if d.provider == nil {
		_ = sess.Send(protocol.NewError("music provider not configured"))
		return
	}
	r.StreamJobStarted()
	go func() {
		defer r.StreamJobFinished()
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		result, err := d.provider.Stream(ctx, req.TrackID)
		if err != nil {
			d.log.Error().Err(err).Str("track_id", req.TrackID).Msg("stream resolve failed")
			_ = sess.Send(protocol.NewError("stream failed"))
			return
		}
		r.AddAudioSources(result.URL)
	}()
}

// allowMutate enforces the room permission mode. Denied frames are dropped;
// clients that race a mode change should not see errors for it.
func (d *Dispatcher) allowMutate(r *room.Room, sess *session.Session, typ string) bool {
	if r.CanMutate(sess.ClientID) {
		return true
	}
	d.log.Warn().Str("client_id", sess.ClientID).Str("type", typ).Msg("mutation denied")
	return false
}

func (d *Dispatcher) allowAdmin(r *room.Room, sess *session.Session, typ string) bool {
	if r.IsAdmin(sess.ClientID) {
		return true
	}
	d.log.Warn().Str("client_id", sess.ClientID).Str("type", typ).Msg("admin op denied")
	return false
}

func (d *Dispatcher) reject(sess *session.Session, err error) {
	metrics.InvalidFramesTotal.Inc()
	d.log.Debug().Err(err).Str("client_id", sess.ClientID).Msg("invalid frame")
	_ = sess.Send(protocol.NewError("Invalid message format"))
}
