package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"microratchet/internal/services/session"
)

// maxHandshakeFrames bounds the hello/ack exchange.
const maxHandshakeFrames = 8

// SimulateOptions drives an in-process conversation between two endpoints.
type SimulateOptions struct {
	// Messages is the number of payloads sent, alternating direction in
	// runs of random length.
	Messages int
	// MaxPayload is the largest payload generated.
	MaxPayload int
	// Loss is the probability that a frame is dropped in transit.
	Loss float64
	// Reorder shuffles the frames of each burst before delivery.
	Reorder bool
	// Persist saves both states after each burst.
	Persist bool
	// Seed makes a run reproducible.
	Seed int64
}

// SimulateReport summarizes a run.
type SimulateReport struct {
	Sent      int
	Delivered int
	Frames    int
	Dropped   int
	Rejected  int
	Expired   int
}

// Handshake runs the hello and ack exchange between client and server
// until neither side has a reply left.
func Handshake(client, server *session.Session) error {
	frame, err := client.InitiateInitialization()
	if err != nil {
		return err
	}
	to, from := server, client
	for i := 0; frame != nil; i++ {
		if i == maxHandshakeFrames {
			return errors.New("handshake did not settle")
		}
		res, err := to.Receive(frame)
		if err != nil {
			return fmt.Errorf("handshake frame %d: %w", i, err)
		}
		frame = res.ToSend
		to, from = from, to
	}
	if !client.IsInitialized() || !server.IsInitialized() {
		return errors.New("handshake finished without establishing both sides")
	}
	return nil
}

// Simulate establishes a session between client and server and exchanges
// random payloads through a lossy, optionally reordering, channel. It
// fails when a payload arrives altered; frames the endpoints reject are
// counted, not fatal.
func Simulate(ctx context.Context, client, server *Wire, opts SimulateOptions) (*SimulateReport, error) {
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = client.Session.MaxPayload()
	}
	if err := Handshake(client.Session, server.Session); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	rep := &SimulateReport{}
	outstanding := map[string]int{}
	from, to := client, server

	for rep.Sent < opts.Messages {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		burst := 1 + rng.Intn(4)
		var frames [][]byte
		for i := 0; i < burst && rep.Sent < opts.Messages; i++ {
			payload := make([]byte, 1+rng.Intn(opts.MaxPayload))
			rng.Read(payload)
			fs, err := from.Messages.Send(payload)
			if err != nil {
				return rep, fmt.Errorf("send: %w", err)
			}
			outstanding[string(payload)]++
			frames = append(frames, fs...)
			rep.Sent++
		}
		if opts.Reorder {
			rng.Shuffle(len(frames), func(i, j int) { frames[i], frames[j] = frames[j], frames[i] })
		}
		for _, f := range frames {
			rep.Frames++
			if rng.Float64() < opts.Loss {
				rep.Dropped++
				continue
			}
			res, err := to.Messages.Receive(f)
			if err != nil {
				rep.Rejected++
				continue
			}
			if res.Payload == nil {
				continue
			}
			key := string(res.Payload)
			if outstanding[key] == 0 {
				return rep, errors.New("received a payload that was never sent")
			}
			outstanding[key]--
			rep.Delivered++
		}
		rep.Expired += client.Messages.Tick() + server.Messages.Tick()
		if opts.Persist {
			if err := saveBoth(client, server); err != nil {
				return rep, err
			}
		}
		to.Log.Debug("burst delivered", "frames", len(frames), "pending", to.Messages.Pending())
		if rng.Intn(2) == 0 {
			from, to = to, from
		}
	}
	return rep, nil
}

func saveBoth(ws ...*Wire) error {
	for _, w := range ws {
		if err := w.Session.SaveState(); err != nil {
			return err
		}
	}
	return nil
}
