package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rudp/internal/util"
)

// signalPath is the HTTP path of the signaling endpoint.
const signalPath = "/ws"

type messageType string

const (
	msgTypeOffer     messageType = "offer"
	msgTypeAnswer    messageType = "answer"
	msgTypeCandidate messageType = "candidate"
)

// message is the JSON structure exchanged over the signaling WebSocket.
type message struct {
	Type      messageType `json:"type"`
	Session   string      `json:"session"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// signaler runs the SDP/ICE exchange of one peer over a WebSocket. The
// accepting side offers, the dialing side answers, and both trickle
// candidates until the peer's channels are open.
type signaler struct {
	conn    *websocket.Conn
	pc      *webrtc.PeerConnection
	session string

	mu sync.Mutex
	// pending holds candidates that arrived ahead of the remote description.
	pending []webrtc.ICECandidateInit
}

func newSignaler(conn *websocket.Conn, pc *webrtc.PeerConnection, session string) *signaler {
	s := &signaler{conn: conn, pc: pc, session: session}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		// Best-effort: the socket is closed once the peer is up.
		_ = s.send(message{Type: msgTypeCandidate, Candidate: string(data)})
	})
	return s
}

func (s *signaler) send(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Session = s.session
	return s.conn.WriteJSON(msg)
}

// offer creates an SDP offer, applies it locally and sends it.
func (s *signaler) offer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return s.send(message{Type: msgTypeOffer, SDP: offer.SDP})
}

// answer creates an SDP answer, applies it locally and sends it.
func (s *signaler) answer() error {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return s.send(message{Type: msgTypeAnswer, SDP: answer.SDP})
}

// watch applies incoming signaling messages until the socket closes. The
// dialing side adopts the session id of the first message it sees; after
// that, messages from any other session are ignored.
func (s *signaler) watch() error {
	for {
		var msg message
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read signaling message: %w", err)
		}

		s.mu.Lock()
		if s.session == "" {
			s.session = msg.Session
		}
		session := s.session
		s.mu.Unlock()
		if msg.Session != session {
			util.LogWarning("signaling message for session %q ignored (expected %q)", msg.Session, session)
			continue
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return fmt.Errorf("set remote offer: %w", err)
			}
			if err := s.answer(); err != nil {
				return err
			}
			if err := s.applyPending(); err != nil {
				return err
			}

		case msgTypeAnswer:
			if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return fmt.Errorf("set remote answer: %w", err)
			}
			if err := s.applyPending(); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("parse ICE candidate: %w", err)
			}
			if s.pc.RemoteDescription() == nil {
				s.pending = append(s.pending, init)
				continue
			}
			if err := s.pc.AddICECandidate(init); err != nil {
				return fmt.Errorf("add ICE candidate: %w", err)
			}
		}
	}
}

func (s *signaler) applyPending() error {
	for _, c := range s.pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}
	}
	s.pending = nil
	return nil
}

func (s *signaler) close() {
	_ = s.conn.Close()
}
