package repositories

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
)

// TxRunner groups multi-document writes into one unit of work. Against a
// replica set it uses a MongoDB transaction; standalone servers cannot, so
// the writes run sequentially under the same context.
type TxRunner struct {
	client        *mongo.Client
	transactional bool
}

func NewTxRunner(client *mongo.Client, transactional bool) *TxRunner {
	return &TxRunner{client: client, transactional: transactional && client != nil}
}

func (r *TxRunner) Transactional() bool {
	return r != nil && r.transactional
}

// WithinTransaction runs fn. The context passed to fn carries the session,
// so repository calls made with it join the transaction.
func (r *TxRunner) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.Transactional() {
		return fn(ctx)
	}

	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
