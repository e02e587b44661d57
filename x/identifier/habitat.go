package identifier

import (
	"context"
	"fmt"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/gconf"
	"github.com/iov-one/gkel/orm"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/operation"
	"github.com/iov-one/gkel/x/witness"
)

// Habitat manages the individual identifiers of a member.
type Habitat struct {
	db      gkel.CacheableKVStore
	conf    Config
	keeper  *Keeper
	network witness.Network
	log     *kel.Log
	records orm.ModelBucket
	logger  gkel.Logger
}

// NewHabitat returns the habitat of a member. The configuration is loaded
// from the member database, defaults are used when none was stored.
func NewHabitat(db gkel.CacheableKVStore, keeper *Keeper, network witness.Network, logger gkel.Logger) (*Habitat, error) {
	var conf Config
	switch err := gconf.Load(db, PkgName, &conf); {
	case errors.ErrNotFound.Is(err):
		conf = Config{}
	case err != nil:
		return nil, errors.Wrap(err, "load configuration")
	}
	return &Habitat{
		db:      db,
		conf:    conf,
		keeper:  keeper,
		network: network,
		log:     kel.NewLog(),
		records: orm.NewModelBucket("habitat", &Record{}),
		logger:  gkel.LoggerOrDefault(logger).With("module", "identifier"),
	}, nil
}

// Keeper returns the key keeper of this habitat.
func (h *Habitat) Keeper() *Keeper {
	return h.keeper
}

func keyPath(name string, index uint32) string {
	return fmt.Sprintf("%s/%d", name, index)
}

// Incept creates a new individual identifier with given local name. The
// returned operation completes once the inception was receipted.
func (h *Habitat) Incept(ctx context.Context, name string) (*Record, operation.Operation, error) {
	if ok, err := h.records.Has(h.db, []byte(name)); err != nil {
		return nil, nil, err
	} else if ok {
		return nil, nil, errors.Wrapf(errors.ErrDuplicate, "identifier %q", name)
	}

	current, err := h.keeper.Create(keyPath(name, 0))
	if err != nil {
		return nil, nil, err
	}
	next, err := h.keeper.Create(keyPath(name, 1))
	if err != nil {
		return nil, nil, err
	}
	commitment, err := next.PublicKey().Commitment(h.algorithm())
	if err != nil {
		return nil, nil, err
	}
	ev, err := kel.Incept(kel.InceptionArgs{
		Keys:             []crypto.PublicKey{current.PublicKey()},
		Threshold:        gkel.NewCountThreshold(1),
		NextKeys:         []crypto.Digest{commitment},
		NextThreshold:    gkel.NewCountThreshold(1),
		Witnesses:        h.conf.Witnesses,
		WitnessThreshold: h.conf.WitnessThreshold,
		Algorithm:        h.algorithm(),
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "inception")
	}

	rec := &Record{
		Name:    name,
		Prefix:  ev.Prefix,
		Current: current.PublicKey(),
		Next:    next.PublicKey(),
		Derived: 2,
	}
	s, err := h.commit(ctx, rec, ev, current)
	if err != nil {
		return nil, nil, err
	}
	h.logger.Info("identifier incepted", "name", name, "prefix", rec.Prefix)
	return rec, witness.ReceiptOperation(h.network, s.Prefix, s.Sequence, s.WitnessThreshold), nil
}

// Rotate rotates the key of an individual identifier. The pre-rotated key
// becomes the signing key and a new next key is committed to.
func (h *Habitat) Rotate(ctx context.Context, name string) (kel.State, operation.Operation, error) {
	rec, state, err := h.Get(name)
	if err != nil {
		return kel.State{}, nil, err
	}
	current, err := h.keeper.Signer(rec.Next)
	if err != nil {
		return kel.State{}, nil, errors.Wrap(err, "pre-rotated key")
	}
	next, err := h.keeper.Create(keyPath(name, rec.Derived))
	if err != nil {
		return kel.State{}, nil, err
	}
	commitment, err := next.PublicKey().Commitment(h.algorithm())
	if err != nil {
		return kel.State{}, nil, err
	}
	ev, err := kel.Rotate(state, kel.RotationArgs{
		Keys:          []crypto.PublicKey{rec.Next},
		NextKeys:      []crypto.Digest{commitment},
		NextThreshold: gkel.NewCountThreshold(1),
		Algorithm:     h.algorithm(),
	})
	if err != nil {
		return kel.State{}, nil, errors.Wrap(err, "rotation")
	}

	rec.Current = rec.Next
	rec.Next = next.PublicKey()
	rec.Derived++
	s, err := h.commit(ctx, rec, ev, current)
	if err != nil {
		return kel.State{}, nil, err
	}
	h.logger.Info("identifier rotated", "name", name, "prefix", s.Prefix, "sn", s.Sequence)
	return s, witness.ReceiptOperation(h.network, s.Prefix, s.Sequence, s.WitnessThreshold), nil
}

// Interact appends an interaction anchoring given seals to an individual
// identifier.
func (h *Habitat) Interact(ctx context.Context, name string, seals []kel.Seal) (kel.State, operation.Operation, error) {
	rec, state, err := h.Get(name)
	if err != nil {
		return kel.State{}, nil, err
	}
	signer, err := h.keeper.Signer(rec.Current)
	if err != nil {
		return kel.State{}, nil, err
	}
	ev, err := kel.Interact(state, seals, h.algorithm())
	if err != nil {
		return kel.State{}, nil, errors.Wrap(err, "interaction")
	}
	s, err := h.commit(ctx, rec, ev, signer)
	if err != nil {
		return kel.State{}, nil, err
	}
	return s, witness.ReceiptOperation(h.network, s.Prefix, s.Sequence, s.WitnessThreshold), nil
}

// commit signs given event, appends it to the member log together with the
// updated record and submits it to the witnesses. Nothing is stored when
// any step fails.
func (h *Habitat) commit(ctx context.Context, rec *Record, ev *kel.Event, signer crypto.Signer) (kel.State, error) {
	se := &kel.SignedEvent{
		Event:      ev,
		Signatures: []kel.Signature{kel.Sign(signer, 0, ev.Digest)},
	}
	cache := h.db.CacheWrap()
	s, err := h.log.Append(cache, se)
	if err != nil {
		cache.Discard()
		return kel.State{}, err
	}
	if err := h.records.Put(cache, []byte(rec.Name), rec); err != nil {
		cache.Discard()
		return kel.State{}, err
	}
	if err := h.network.Submit(ctx, se); err != nil && !errors.IsRecoverable(err) {
		cache.Discard()
		return kel.State{}, errors.Wrap(err, "submit to witnesses")
	}
	if err := cache.Write(); err != nil {
		return kel.State{}, errors.Wrap(err, "write")
	}
	return s, nil
}

// Get returns the record and the key state of an individual identifier.
func (h *Habitat) Get(name string) (*Record, kel.State, error) {
	var rec Record
	if err := h.records.One(h.db, []byte(name), &rec); err != nil {
		return nil, kel.State{}, errors.Wrapf(err, "identifier %q", name)
	}
	s, err := h.log.State(h.db, rec.Prefix)
	if err != nil {
		return nil, kel.State{}, err
	}
	return &rec, s, nil
}

// ByPrefix returns the record of the individual identifier with given
// prefix.
func (h *Habitat) ByPrefix(prefix string) (*Record, error) {
	var all []Record
	if _, err := h.records.ByPrefix(h.db, nil, &all); err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Prefix == prefix {
			return &all[i], nil
		}
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "identifier %s", prefix)
}

// Sign signs a digest with the private key of given public key. The index
// is the position of that key in the signing key list.
func (h *Habitat) Sign(pub crypto.PublicKey, index int, d crypto.Digest) (kel.Signature, error) {
	signer, err := h.keeper.Signer(pub)
	if err != nil {
		return kel.Signature{}, err
	}
	return kel.Sign(signer, index, d), nil
}

func (h *Habitat) algorithm() crypto.Algorithm {
	if h.conf.Algorithm == "" {
		return crypto.DefaultAlgorithm
	}
	return h.conf.Algorithm
}
