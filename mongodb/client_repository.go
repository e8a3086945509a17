package mongodb

import (
	"context"
	goerrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// ClientRepository implements domain.ClientRepository on a Mongo collection.
type ClientRepository struct {
	coll *mongo.Collection
}

// NewClientRepository creates the repository over the clients collection.
func NewClientRepository(db *mongo.Database) *ClientRepository {
	return &ClientRepository{coll: db.Collection(ClientsCollection)}
}

// CreateClient implements domain.ClientRepository.
func (r *ClientRepository) CreateClient(ctx context.Context, client *domain.Client) error {
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	client.UpdatedAt = client.CreatedAt
	_, err := r.coll.InsertOne(ctx, client)
	if mongo.IsDuplicateKeyError(err) {
		return errors.NewValidation("client_id", "client %q already registered", client.ID)
	}
	return err
}

// GetClient implements domain.ClientRepository.
func (r *ClientRepository) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	var client domain.Client
	err := r.coll.FindOne(ctx, bson.M{"_id": clientID}).Decode(&client)
	if goerrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// UpdateClient implements domain.ClientRepository.
func (r *ClientRepository) UpdateClient(ctx context.Context, client *domain.Client) error {
	client.UpdatedAt = time.Now().UTC()
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": client.ID}, client)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errors.ErrClientNotFound
	}
	return nil
}

// DeleteClient implements domain.ClientRepository.
func (r *ClientRepository) DeleteClient(ctx context.Context, clientID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": clientID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return errors.ErrClientNotFound
	}
	return nil
}

// ListClients implements domain.ClientRepository.
func (r *ClientRepository) ListClients(ctx context.Context, filter domain.ClientFilter) ([]*domain.Client, error) {
	query := bson.M{}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	if filter.IsActive {
		query["is_active"] = true
	}
	if filter.Search != "" {
		query["name"] = bson.M{"$regex": filter.Search, "$options": "i"}
	}

	cursor, err := r.coll.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var clients []*domain.Client
	if err := cursor.All(ctx, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

// ValidateClient implements domain.ClientRepository.
func (r *ClientRepository) ValidateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	client, err := r.GetClient(ctx, clientID)
	if err != nil {
		return nil, errors.ErrInvalidClientCredentials
	}
	if !client.VerifySecret(clientSecret) {
		return nil, errors.ErrInvalidClientCredentials
	}
	return client, nil
}
