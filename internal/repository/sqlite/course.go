package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/repository"
)

var _ repository.CourseRepository = (*CourseDB)(nil)

// CourseDB reads the course catalogue. Only id, title and price live here;
// course content is managed elsewhere.
type CourseDB struct {
	conn *sql.DB
}

func (c *CourseDB) CreateCourse(ctx context.Context, course *model.Course) error {
	if course.ID == "" {
		course.ID = xid.New().String()
	}
	course.CreatedAt = time.Now().UTC()

	_, err := c.conn.ExecContext(ctx,
		`INSERT INTO courses (id, title, price, created_at) VALUES (?, ?, ?, ?)`,
		course.ID, course.Title, course.Price, course.CreatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return apperror.Conflict(fmt.Sprintf("course %s already exists", course.ID))
		}
		return fmt.Errorf("sqlite: inserting course %q: %w", course.Title, err)
	}
	return nil
}

func (c *CourseDB) GetCourseByID(ctx context.Context, id string) (*model.Course, error) {
	var course model.Course
	err := c.conn.QueryRowContext(ctx,
		`SELECT id, title, price, created_at FROM courses WHERE id = ?`, id,
	).Scan(&course.ID, &course.Title, &course.Price, &course.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("course", id)
		}
		return nil, fmt.Errorf("sqlite: getting course %s: %w", id, err)
	}
	return &course, nil
}
