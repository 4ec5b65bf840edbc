package portal

import (
	"errors"
	"sync"
)

// The gateway treats records as an opaque store it is told about; this
// in-memory implementation stands in for the real database behind the
// portal routes.

type Student struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Course struct {
	ID    int    `json:"id"`
	Code  string `json:"code"`
	Title string `json:"title"`
}

var ErrNotFound = errors.New("portal: record not found")

type Store struct {
	mu       sync.RWMutex
	students map[int]*Student
	courses  map[int]*Course
	nextID   int
}

func NewStore() *Store {
	return &Store{
		students: make(map[int]*Student),
		courses:  make(map[int]*Course),
	}
}

func (s *Store) CreateStudent(st Student) Student {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	st.ID = s.nextID
	s.students[st.ID] = &st
	return st
}

func (s *Store) DeleteStudent(id int) (Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	delete(s.students, id)
	return *st, nil
}

func (s *Store) CreateCourse(c Course) Course {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	c.ID = s.nextID
	s.courses[c.ID] = &c
	return c
}

func (s *Store) UpdateCourse(id int, title string) (Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.courses[id]
	if !ok {
		return Course{}, ErrNotFound
	}
	c.Title = title
	return *c, nil
}

func (s *Store) Courses() []Course {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]Course, 0, len(s.courses))
	for _, c := range s.courses {
		res = append(res, *c)
	}
	return res
}
