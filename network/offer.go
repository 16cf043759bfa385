package network

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync/atomic"

	"wyrmhole/models"
)

// ErrOfferAnswered indicates Accept or Reject was already called.
var ErrOfferAnswered = errors.New("network: offer already answered")

type incomingOffer struct {
	stream   *SecureStream
	msg      OfferMessage
	hints    []models.RelayHint
	answered atomic.Bool
}

func (o *incomingOffer) Name() string {
	return o.msg.Name
}

func (o *incomingOffer) Size() int64 {
	return o.msg.Size
}

// Reject declines the offer and closes the stream.
func (o *incomingOffer) Reject() error {
	if !o.answered.CompareAndSwap(false, true) {
		return ErrOfferAnswered
	}
	defer o.stream.Close()

	if err := o.stream.SendMessage(AnswerMessage{Type: TypeAnswer, Accepted: false, Message: "offer declined"}); err != nil {
		return fmt.Errorf("send rejection: %w", err)
	}
	return nil
}

// Accept answers the offer and copies the payload into w.
func (o *incomingOffer) Accept(ctx context.Context, onTransit models.TransitFunc, onProgress models.ProgressFunc, w io.Writer) error {
	if !o.answered.CompareAndSwap(false, true) {
		return ErrOfferAnswered
	}
	defer o.stream.Close()

	stop := context.AfterFunc(ctx, func() {
		o.stream.closeWithError(ctx.Err())
	})
	defer stop()

	err := o.receive(ctx, onTransit, onProgress, w)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (o *incomingOffer) receive(ctx context.Context, onTransit models.TransitFunc, onProgress models.ProgressFunc, w io.Writer) error {
	if err := o.stream.SendMessage(AnswerMessage{Type: TypeAnswer, Accepted: true}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	if onTransit != nil {
		onTransit(transitFor(o.stream.RemoteAddr(), o.hints))
	}

	sum := sha256.New()
	var received int64
	for {
		payload, err := o.stream.ReceiveMessage(ctx)
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("peer closed the connection after %d of %d bytes", received, o.msg.Size)
		}
		if err != nil {
			return err
		}

		msgType, err := DecodeMessageType(payload)
		if err != nil {
			return err
		}

		switch msgType {
		case TypeData:
			data, err := decodeMessage[DataMessage](payload)
			if err != nil {
				return err
			}
			if err := o.writeChunk(data, received, sum, w); err != nil {
				return err
			}
			received += int64(len(data.Payload))
			if onProgress != nil {
				onProgress(received, o.msg.Size)
			}
		case TypeDone:
			done, err := decodeMessage[DoneMessage](payload)
			if err != nil {
				return err
			}
			return o.finish(done, received, sum)
		case TypeError:
			return expectType(payload, TypeDone)
		default:
			return fmt.Errorf("%w: unexpected %q during transfer", ErrInvalidMessageType, msgType)
		}
	}
}

func (o *incomingOffer) writeChunk(data DataMessage, received int64, sum hash.Hash, w io.Writer) error {
	if data.Offset != received {
		o.abort("out_of_order", "unexpected chunk offset")
		return fmt.Errorf("chunk offset %d, expected %d", data.Offset, received)
	}
	if received+int64(len(data.Payload)) > o.msg.Size {
		o.abort("size_mismatch", "more data than offered")
		return fmt.Errorf("%w: more than %d bytes", ErrSizeMismatch, o.msg.Size)
	}
	if _, err := w.Write(data.Payload); err != nil {
		o.abort("write_failed", err.Error())
		return fmt.Errorf("write payload: %w", err)
	}
	_, _ = sum.Write(data.Payload)
	return nil
}

func (o *incomingOffer) finish(done DoneMessage, received int64, sum hash.Hash) error {
	if done.Size != received || received != o.msg.Size {
		o.abort("size_mismatch", "size mismatch")
		return fmt.Errorf("%w: received %d of %d bytes", ErrSizeMismatch, received, o.msg.Size)
	}
	if hex.EncodeToString(sum.Sum(nil)) != done.Checksum {
		o.abort("checksum_mismatch", "checksum mismatch")
		return ErrChecksumMismatch
	}
	if err := o.stream.SendMessage(AckMessage{Type: TypeAck, Size: received}); err != nil {
		return fmt.Errorf("send ack: %w", err)
	}
	return nil
}

func (o *incomingOffer) abort(code, message string) {
	_ = o.stream.SendMessage(ErrorMessage{Type: TypeError, Code: code, Message: message})
}
