package samAuth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	sequenceKeyStudent = "seq:student"
	sequenceKeyTeacher = "seq:teacher"
)

var errSequenceBackend = errors.New("id sequence backend unavailable")

// idSequence allocates school-wide account identifiers from durable Redis
// counters. INCR is atomic, so concurrent registrations can never collide
// and a restart never reuses an identifier.
type idSequence struct {
	redis  *redis.Client
	config RegistrationConfig
}

func newIDSequence(redisClient *redis.Client, cfg RegistrationConfig) *idSequence {
	return &idSequence{redis: redisClient, config: cfg}
}

// NextStudentID allocates and formats the next student identifier.
func (s *idSequence) NextStudentID(ctx context.Context) (string, error) {
	count, err := s.redis.Incr(ctx, sequenceKeyStudent).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errSequenceBackend, err)
	}
	return s.format(s.config.StudentIDBase + count), nil
}

// NextTeacherID allocates and formats the next teacher identifier.
func (s *idSequence) NextTeacherID(ctx context.Context) (string, error) {
	count, err := s.redis.Incr(ctx, sequenceKeyTeacher).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errSequenceBackend, err)
	}
	return s.format(s.config.TeacherIDBase + count), nil
}

func (s *idSequence) format(n int64) string {
	return fmt.Sprintf("%s%05d", s.config.SchoolIDPrefix, n)
}
