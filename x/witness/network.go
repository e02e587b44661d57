package witness

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/operation"
)

// Network is the witness network.
type Network interface {
	// Submit hands a signed event to the witnesses. ErrAnchorNotYetVisible
	// is returned when a delegated event was kept in escrow.
	Submit(ctx context.Context, se *kel.SignedEvent) error
	// Query returns the key state of an identifier once it reached given
	// sequence number. ErrNotYetVisible is returned while it did not.
	Query(ctx context.Context, prefix string, minSeq uint64) (*kel.Snapshot, error)
	// Receipts returns the receipts of the accepted event with given
	// sequence number. ErrNotYetVisible is returned while the event is
	// not accepted.
	Receipts(ctx context.Context, prefix string, seq uint64) ([]kel.Receipt, error)
}

// ReceiptOperation returns an operation that completes once the event with
// given sequence number and digest collected at least toad receipts. The
// result is the list of receipts.
func ReceiptOperation(n Network, prefix string, seq uint64, toad uint32) operation.Operation {
	name := fmt.Sprintf("receipts.%d.%s", seq, uuid.New())
	return operation.Func(name, func(ctx context.Context) (bool, interface{}, error) {
		rs, err := n.Receipts(ctx, prefix, seq)
		if err != nil {
			return false, nil, err
		}
		if uint32(len(rs)) < toad {
			return false, nil, errors.Wrapf(errors.ErrNotYetVisible, "%d of %d receipts", len(rs), toad)
		}
		return true, rs, nil
	})
}

// QueryOperation returns an operation that completes with the snapshot of
// an identifier once it reached given sequence number.
func QueryOperation(n Network, prefix string, minSeq uint64) operation.Operation {
	name := fmt.Sprintf("query.%d.%s", minSeq, uuid.New())
	return operation.Func(name, func(ctx context.Context) (bool, interface{}, error) {
		snap, err := n.Query(ctx, prefix, minSeq)
		if err != nil {
			return false, nil, err
		}
		return true, snap, nil
	})
}
