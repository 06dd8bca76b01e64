package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

// mongoQueries is shared by plain reads and transactions; inside InTx the
// session travels in ctx.
type mongoQueries struct {
	Communities  *mongo.Collection
	SubClubs     *mongo.Collection
	Memberships  *mongo.Collection
	JoinRequests *mongo.Collection
	PostActivity *mongo.Collection
}

// communityDoc represents the MongoDB document structure for communities
// and sub-clubs; CommunityID and SeekingCommunity are only set on sub-clubs.
type communityDoc struct {
	ID               string    `bson:"_id"`
	CommunityID      *string   `bson:"community_id,omitempty"`
	SeekingCommunity bool      `bson:"seeking_community,omitempty"`
	Name             string    `bson:"name"`
	Description      string    `bson:"description"`
	Visibility       string    `bson:"visibility"`
	Type             string    `bson:"type"`
	LocationName     string    `bson:"location_name"`
	Latitude         *float64  `bson:"latitude,omitempty"`
	Longitude        *float64  `bson:"longitude,omitempty"`
	RadiusKm         float64   `bson:"radius_km"`
	CreatorID        string    `bson:"creator_id"`
	MemberCount      int       `bson:"member_count"`
	PostCount        int       `bson:"post_count"`
	CreatedAt        time.Time `bson:"created_at"`
	Tags             []string  `bson:"tags"`
	LockVersion      int64     `bson:"lock_version"`
}

func (d *communityDoc) model() (*models.Community, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "invalid community ID in database", err)
	}
	creatorID, err := uuid.Parse(d.CreatorID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "invalid creator ID in database", err)
	}
	return &models.Community{
		ID:           id,
		Name:         d.Name,
		Description:  d.Description,
		Visibility:   models.Visibility(d.Visibility),
		Type:         models.CommunityType(d.Type),
		LocationName: d.LocationName,
		Latitude:     d.Latitude,
		Longitude:    d.Longitude,
		RadiusKm:     d.RadiusKm,
		CreatorID:    creatorID,
		MemberCount:  d.MemberCount,
		PostCount:    d.PostCount,
		CreatedAt:    d.CreatedAt,
		Tags:         d.Tags,
	}, nil
}

func (d *communityDoc) subclub() (*models.SubClub, error) {
	c, err := d.model()
	if err != nil {
		return nil, err
	}
	s := &models.SubClub{
		ID:               c.ID,
		SeekingCommunity: d.SeekingCommunity,
		Name:             c.Name,
		Description:      c.Description,
		Visibility:       c.Visibility,
		Type:             c.Type,
		LocationName:     c.LocationName,
		Latitude:         c.Latitude,
		Longitude:        c.Longitude,
		RadiusKm:         c.RadiusKm,
		CreatorID:        c.CreatorID,
		MemberCount:      c.MemberCount,
		PostCount:        c.PostCount,
		CreatedAt:        c.CreatedAt,
		Tags:             c.Tags,
	}
	if d.CommunityID != nil {
		parentID, err := uuid.Parse(*d.CommunityID)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "invalid parent community ID in database", err)
		}
		s.CommunityID = &parentID
	}
	return s, nil
}

type membershipDoc struct {
	ID          string    `bson:"_id"`
	SubjectType string    `bson:"subject_type"`
	SubjectID   string    `bson:"subject_id"`
	UserID      string    `bson:"user_id"`
	Role        string    `bson:"role"`
	JoinedAt    time.Time `bson:"joined_at"`
}

func membershipDocID(subject models.SubjectRef, userID uuid.UUID) string {
	return subject.String() + ":" + userID.String()
}

func (d *membershipDoc) model() (*models.Membership, error) {
	subjectID, err := uuid.Parse(d.SubjectID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "invalid subject ID in membership", err)
	}
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "invalid user ID in membership", err)
	}
	return &models.Membership{
		Subject:  models.SubjectRef{Type: models.SubjectType(d.SubjectType), ID: subjectID},
		UserID:   userID,
		Role:     models.Role(d.Role),
		JoinedAt: d.JoinedAt,
	}, nil
}

type joinRequestDoc struct {
	ID          string     `bson:"_id"`
	SubjectType string     `bson:"subject_type"`
	SubjectID   string     `bson:"subject_id"`
	UserID      string     `bson:"user_id"`
	Message     string     `bson:"message"`
	Status      string     `bson:"status"`
	CreatedAt   time.Time  `bson:"created_at"`
	ResolvedAt  *time.Time `bson:"resolved_at,omitempty"`
	ResolvedBy  *string    `bson:"resolved_by,omitempty"`
}

func newJoinRequestDoc(jr *models.JoinRequest) joinRequestDoc {
	doc := joinRequestDoc{
		ID:          jr.ID.String(),
		SubjectType: string(jr.Subject.Type),
		SubjectID:   jr.Subject.ID.String(),
		UserID:      jr.UserID.String(),
		Message:     jr.Message,
		Status:      string(jr.Status),
		CreatedAt:   jr.CreatedAt,
		ResolvedAt:  jr.ResolvedAt,
	}
	if jr.ResolvedBy != nil {
		by := jr.ResolvedBy.String()
		doc.ResolvedBy = &by
	}
	return doc
}

func (d *joinRequestDoc) model() (*models.JoinRequest, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "invalid join request ID in database", err)
	}
	subjectID, err := uuid.Parse(d.SubjectID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "invalid subject ID in join request", err)
	}
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "invalid user ID in join request", err)
	}
	jr := &models.JoinRequest{
		ID:         id,
		Subject:    models.SubjectRef{Type: models.SubjectType(d.SubjectType), ID: subjectID},
		UserID:     userID,
		Message:    d.Message,
		Status:     models.JoinRequestStatus(d.Status),
		CreatedAt:  d.CreatedAt,
		ResolvedAt: d.ResolvedAt,
	}
	if d.ResolvedBy != nil {
		by, err := uuid.Parse(*d.ResolvedBy)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "invalid resolver ID in join request", err)
		}
		jr.ResolvedBy = &by
	}
	return jr, nil
}

func (q *mongoQueries) subjectCollection(subject models.SubjectRef) (*mongo.Collection, error) {
	switch subject.Type {
	case models.SubjectCommunity:
		return q.Communities, nil
	case models.SubjectSubClub:
		return q.SubClubs, nil
	}
	return nil, utils.NewInvalidInputError("unknown subject type " + string(subject.Type))
}

func (q *mongoQueries) findSubjectDoc(ctx context.Context, coll *mongo.Collection, what string, id uuid.UUID) (*communityDoc, error) {
	var doc communityDoc
	err := coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, utils.NewNotFoundError(what, id)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to get "+what, err)
	}
	return &doc, nil
}

func (q *mongoQueries) GetCommunity(ctx context.Context, id uuid.UUID) (*models.Community, error) {
	doc, err := q.findSubjectDoc(ctx, q.Communities, "community", id)
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (q *mongoQueries) GetSubClub(ctx context.Context, id uuid.UUID) (*models.SubClub, error) {
	doc, err := q.findSubjectDoc(ctx, q.SubClubs, "sub-club", id)
	if err != nil {
		return nil, err
	}
	return doc.subclub()
}

func (q *mongoQueries) GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	var doc joinRequestDoc
	err := q.JoinRequests.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, utils.NewNotFoundError("join request", id)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to get join request", err)
	}
	return doc.model()
}

func (q *mongoQueries) GetMembership(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) (*models.Membership, error) {
	var doc membershipDoc
	err := q.Memberships.FindOne(ctx, bson.M{"_id": membershipDocID(subject, userID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to get membership", err)
	}
	return doc.model()
}

func (q *mongoQueries) GetPendingRequest(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) (*models.JoinRequest, error) {
	var doc joinRequestDoc
	err := q.JoinRequests.FindOne(ctx, bson.M{
		"subject_type": string(subject.Type),
		"subject_id":   subject.ID.String(),
		"user_id":      userID.String(),
		"status":       string(models.JoinRequestPending),
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to get pending join request", err)
	}
	return doc.model()
}

func (q *mongoQueries) ListMembers(ctx context.Context, subject models.SubjectRef) ([]*models.Membership, error) {
	cursor, err := q.Memberships.Find(ctx,
		bson.M{"subject_type": string(subject.Type), "subject_id": subject.ID.String()},
		options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}, {Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to list members", err)
	}
	defer cursor.Close(ctx)

	out := make([]*models.Membership, 0)
	for cursor.Next(ctx) {
		var doc membershipDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode membership", err)
		}
		m, err := doc.model()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, cursor.Err()
}

func (q *mongoQueries) ListPendingRequests(ctx context.Context, subject models.SubjectRef) ([]*models.JoinRequest, error) {
	cursor, err := q.JoinRequests.Find(ctx,
		bson.M{
			"subject_type": string(subject.Type),
			"subject_id":   subject.ID.String(),
			"status":       string(models.JoinRequestPending),
		},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to list pending join requests", err)
	}
	defer cursor.Close(ctx)

	out := make([]*models.JoinRequest, 0)
	for cursor.Next(ctx) {
		var doc joinRequestDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode join request", err)
		}
		jr, err := doc.model()
		if err != nil {
			return nil, err
		}
		out = append(out, jr)
	}
	return out, cursor.Err()
}

// LockSubject bumps lock_version so concurrent transactions touching the
// same subject hit a write conflict and are retried one after the other.
func (q *mongoQueries) LockSubject(ctx context.Context, subject models.SubjectRef) error {
	coll, err := q.subjectCollection(subject)
	if err != nil {
		return err
	}
	result, err := coll.UpdateOne(ctx, bson.M{"_id": subject.ID.String()}, bson.M{"$inc": bson.M{"lock_version": 1}})
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to lock subject", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewNotFoundError(string(subject.Type), subject.ID)
	}
	return nil
}

func (q *mongoQueries) InsertCommunity(ctx context.Context, c *models.Community) error {
	doc := communityDoc{
		ID:           c.ID.String(),
		Name:         c.Name,
		Description:  c.Description,
		Visibility:   string(c.Visibility),
		Type:         string(c.Type),
		LocationName: c.LocationName,
		Latitude:     c.Latitude,
		Longitude:    c.Longitude,
		RadiusKm:     c.RadiusKm,
		CreatorID:    c.CreatorID.String(),
		MemberCount:  c.MemberCount,
		PostCount:    c.PostCount,
		CreatedAt:    c.CreatedAt,
		Tags:         append([]string{}, c.Tags...),
	}
	if _, err := q.Communities.InsertOne(ctx, doc); err != nil {
		return mapMongoWriteError(err, "failed to create community")
	}
	return nil
}

func (q *mongoQueries) InsertSubClub(ctx context.Context, s *models.SubClub) error {
	doc := communityDoc{
		ID:               s.ID.String(),
		SeekingCommunity: s.SeekingCommunity,
		Name:             s.Name,
		Description:      s.Description,
		Visibility:       string(s.Visibility),
		Type:             string(s.Type),
		LocationName:     s.LocationName,
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		RadiusKm:         s.RadiusKm,
		CreatorID:        s.CreatorID.String(),
		MemberCount:      s.MemberCount,
		PostCount:        s.PostCount,
		CreatedAt:        s.CreatedAt,
		Tags:             append([]string{}, s.Tags...),
	}
	if s.CommunityID != nil {
		parent := s.CommunityID.String()
		doc.CommunityID = &parent
	}
	if _, err := q.SubClubs.InsertOne(ctx, doc); err != nil {
		return mapMongoWriteError(err, "failed to create sub-club")
	}
	return nil
}

func (q *mongoQueries) SaveMembership(ctx context.Context, m *models.Membership) error {
	doc := membershipDoc{
		ID:          membershipDocID(m.Subject, m.UserID),
		SubjectType: string(m.Subject.Type),
		SubjectID:   m.Subject.ID.String(),
		UserID:      m.UserID.String(),
		Role:        string(m.Role),
		JoinedAt:    m.JoinedAt,
	}
	_, err := q.Memberships.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return mapMongoWriteError(err, "failed to save membership")
	}
	return nil
}

func (q *mongoQueries) DeleteMembership(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) error {
	if _, err := q.Memberships.DeleteOne(ctx, bson.M{"_id": membershipDocID(subject, userID)}); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete membership", err)
	}
	return nil
}

func (q *mongoQueries) InsertJoinRequest(ctx context.Context, jr *models.JoinRequest) error {
	if _, err := q.JoinRequests.InsertOne(ctx, newJoinRequestDoc(jr)); err != nil {
		return mapMongoWriteError(err, "failed to create join request")
	}
	return nil
}

func (q *mongoQueries) UpdateJoinRequest(ctx context.Context, jr *models.JoinRequest) error {
	doc := newJoinRequestDoc(jr)
	result, err := q.JoinRequests.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc)
	if err != nil {
		return mapMongoWriteError(err, "failed to update join request")
	}
	if result.MatchedCount == 0 {
		return utils.NewNotFoundError("join request", jr.ID)
	}
	return nil
}

func (q *mongoQueries) RecountMembers(ctx context.Context, subject models.SubjectRef) (int, error) {
	coll, err := q.subjectCollection(subject)
	if err != nil {
		return 0, err
	}
	n, err := q.Memberships.CountDocuments(ctx, bson.M{
		"subject_type": string(subject.Type),
		"subject_id":   subject.ID.String(),
	})
	if err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to count members", err)
	}
	result, err := coll.UpdateOne(ctx, bson.M{"_id": subject.ID.String()}, bson.M{"$set": bson.M{"member_count": int(n)}})
	if err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to update member count", err)
	}
	if result.MatchedCount == 0 {
		return 0, utils.NewNotFoundError(string(subject.Type), subject.ID)
	}
	return int(n), nil
}

func mapMongoWriteError(err error, message string) error {
	if mongo.IsDuplicateKeyError(err) {
		return utils.NewAppError(utils.ErrConflict, message+": duplicate key", err)
	}
	return utils.NewAppError(utils.ErrDatabase, message, err)
}
