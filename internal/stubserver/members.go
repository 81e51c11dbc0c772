package stubserver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultPageSize = 20

var (
	ErrMemberNotFound     = errors.New("members.not_found")
	ErrMemberNameRequired = errors.New("members.name_required")
	ErrSpouseRequired     = errors.New("members.spouse_required")
)

// Address is the member's current and paternal residence.
type Address struct {
	ID               int64  `json:"id,omitempty"`
	MemberID         int64  `json:"memberId,omitempty"`
	CurrentState     string `json:"currentState,omitempty"`
	CurrentDistrict  string `json:"currentDistrict,omitempty"`
	CurrentTahsil    string `json:"currentTahsil,omitempty"`
	CurrentVillage   string `json:"currentVillage,omitempty"`
	PaternalState    string `json:"paternalState,omitempty"`
	PaternalDistrict string `json:"paternalDistrict,omitempty"`
	PaternalTahsil   string `json:"paternalTahsil,omitempty"`
	PaternalVillage  string `json:"paternalVillage,omitempty"`
}

// Relative is a spouse or child record.
type Relative struct {
	ID         int64   `json:"id,omitempty"`
	MemberID   int64   `json:"memberId,omitempty"`
	Name       string  `json:"name"`
	DOB        *string `json:"dob,omitempty"`
	Gotra      string  `json:"gotra,omitempty"`
	Education  string  `json:"education,omitempty"`
	Occupation string  `json:"occupation,omitempty"`
	PhotoID    *string `json:"photoId,omitempty"`
}

// Member is a society member record.
type Member struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Role          string     `json:"role,omitempty"`
	FatherName    string     `json:"fatherName,omitempty"`
	MotherName    string     `json:"motherName,omitempty"`
	MotherGotra   string     `json:"motherGotra,omitempty"`
	DOB           *string    `json:"dob,omitempty"`
	Education     string     `json:"education,omitempty"`
	Occupation    string     `json:"occupation,omitempty"`
	Gotra         string     `json:"gotra,omitempty"`
	ContactNumber string     `json:"contactNumber,omitempty"`
	PhotoID       *string    `json:"photoId,omitempty"`
	MaritalStatus string     `json:"maritalStatus,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	IsActive      bool       `json:"isActive"`
	Address       *Address   `json:"address,omitempty"`
	Spouse        *Relative  `json:"spouse,omitempty"`
	Children      []Relative `json:"children"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// PageResponse is the backend's paginated envelope; Page is zero-based.
type PageResponse[T any] struct {
	Content       []T   `json:"content"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

func paginate[T any](items []T, page int, size int) PageResponse[T] {
	if size <= 0 {
		size = defaultPageSize
	}
	if page < 0 {
		page = 0
	}
	total := len(items)
	start := page * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	content := make([]T, end-start)
	copy(content, items[start:end])
	return PageResponse[T]{
		Content:       content,
		Page:          page,
		Size:          size,
		TotalElements: int64(total),
		TotalPages:    (total + size - 1) / size,
	}
}

// MemberQuery filters and orders a member listing. Sort is "field" or "field,desc".
type MemberQuery struct {
	Page   int
	Size   int
	Search string
	Sort   string
}

// MemberDirectory stores members and their photos in memory.
type MemberDirectory struct {
	mutex      sync.RWMutex
	clock      Clock
	sequenceID int64
	members    map[int64]*Member
	photos     map[string][]byte
}

// NewMemberDirectory constructs an empty directory.
func NewMemberDirectory(clock Clock) *MemberDirectory {
	if clock == nil {
		clock = systemClock{}
	}
	return &MemberDirectory{
		clock:   clock,
		members: make(map[int64]*Member),
		photos:  make(map[string][]byte),
	}
}

// List returns one page of members matching query.
func (directory *MemberDirectory) List(query MemberQuery) PageResponse[Member] {
	directory.mutex.RLock()
	matched := make([]Member, 0, len(directory.members))
	needle := strings.ToLower(strings.TrimSpace(query.Search))
	for _, member := range directory.members {
		if needle != "" && !memberMatches(member, needle) {
			continue
		}
		matched = append(matched, cloneMember(member))
	}
	directory.mutex.RUnlock()

	sortMembers(matched, query.Sort)
	return paginate(matched, query.Page, query.Size)
}

// All returns every member ordered by id.
func (directory *MemberDirectory) All() []Member {
	directory.mutex.RLock()
	defer directory.mutex.RUnlock()
	members := make([]Member, 0, len(directory.members))
	for _, member := range directory.members {
		members = append(members, cloneMember(member))
	}
	sortMembers(members, "")
	return members
}

// Get returns one member.
func (directory *MemberDirectory) Get(memberID int64) (Member, error) {
	directory.mutex.RLock()
	defer directory.mutex.RUnlock()
	member, ok := directory.members[memberID]
	if !ok {
		return Member{}, fmt.Errorf("members.get: %w", ErrMemberNotFound)
	}
	return cloneMember(member), nil
}

// Create stores a new member and assigns its id.
func (directory *MemberDirectory) Create(input Member) (Member, error) {
	if err := validateMember(input); err != nil {
		return Member{}, err
	}
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	directory.sequenceID++
	input.ID = directory.sequenceID
	stored := normalizeMember(input, directory.clock.Now())
	directory.members[stored.ID] = &stored
	return cloneMember(&stored), nil
}

// Update replaces an existing member, keeping its id and photo.
func (directory *MemberDirectory) Update(memberID int64, input Member) (Member, error) {
	if err := validateMember(input); err != nil {
		return Member{}, err
	}
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	existing, ok := directory.members[memberID]
	if !ok {
		return Member{}, fmt.Errorf("members.update: %w", ErrMemberNotFound)
	}
	input.ID = memberID
	if input.PhotoID == nil {
		input.PhotoID = existing.PhotoID
	}
	stored := normalizeMember(input, directory.clock.Now())
	directory.members[memberID] = &stored
	return cloneMember(&stored), nil
}

// Delete removes a member and its photo.
func (directory *MemberDirectory) Delete(memberID int64) error {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	member, ok := directory.members[memberID]
	if !ok {
		return fmt.Errorf("members.delete: %w", ErrMemberNotFound)
	}
	if member.PhotoID != nil {
		delete(directory.photos, *member.PhotoID)
	}
	delete(directory.members, memberID)
	return nil
}

// SetPhoto stores photo bytes and links them to the member.
func (directory *MemberDirectory) SetPhoto(memberID int64, content []byte) (Member, error) {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	member, ok := directory.members[memberID]
	if !ok {
		return Member{}, fmt.Errorf("members.photo: %w", ErrMemberNotFound)
	}
	if member.PhotoID != nil {
		delete(directory.photos, *member.PhotoID)
	}
	photoID := uuid.NewString()
	directory.photos[photoID] = append([]byte(nil), content...)
	member.PhotoID = &photoID
	member.UpdatedAt = directory.clock.Now()
	return cloneMember(member), nil
}

// Photo returns stored photo bytes.
func (directory *MemberDirectory) Photo(photoID string) ([]byte, bool) {
	directory.mutex.RLock()
	defer directory.mutex.RUnlock()
	content, ok := directory.photos[photoID]
	return content, ok
}

func validateMember(input Member) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("members.validate: %w", ErrMemberNameRequired)
	}
	if strings.EqualFold(input.MaritalStatus, "MARRIED") && (input.Spouse == nil || strings.TrimSpace(input.Spouse.Name) == "") {
		return fmt.Errorf("members.validate: %w", ErrSpouseRequired)
	}
	return nil
}

func normalizeMember(input Member, now time.Time) Member {
	input.Name = strings.TrimSpace(input.Name)
	if input.Role == "" {
		input.Role = RoleMember
	}
	if !strings.EqualFold(input.MaritalStatus, "MARRIED") {
		input.Spouse = nil
	}
	if input.Address != nil {
		input.Address.MemberID = input.ID
	}
	if input.Spouse != nil {
		input.Spouse.MemberID = input.ID
	}
	if input.Children == nil {
		input.Children = []Relative{}
	}
	for index := range input.Children {
		input.Children[index].MemberID = input.ID
	}
	input.UpdatedAt = now
	return cloneMember(&input)
}

func cloneMember(member *Member) Member {
	clone := *member
	if member.Address != nil {
		address := *member.Address
		clone.Address = &address
	}
	if member.Spouse != nil {
		spouse := *member.Spouse
		clone.Spouse = &spouse
	}
	clone.Children = append([]Relative{}, member.Children...)
	return clone
}

func memberMatches(member *Member, needle string) bool {
	for _, field := range []string{member.Name, member.FatherName, member.Gotra, member.ContactNumber} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func sortMembers(members []Member, sortSpec string) {
	field, direction, _ := strings.Cut(strings.ToLower(strings.TrimSpace(sortSpec)), ",")
	descending := strings.TrimSpace(direction) == "desc"
	less := func(left Member, right Member) bool {
		if field == "name" && !strings.EqualFold(left.Name, right.Name) {
			return strings.ToLower(left.Name) < strings.ToLower(right.Name)
		}
		return left.ID < right.ID
	}
	sort.SliceStable(members, func(left, right int) bool {
		if descending {
			return less(members[right], members[left])
		}
		return less(members[left], members[right])
	})
}
