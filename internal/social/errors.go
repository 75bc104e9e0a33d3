package social

import "errors"

// ValidationError is a rejected request. The message is safe to show to the actor.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func invalid(msg string) *ValidationError { return &ValidationError{msg: msg} }

var (
	ErrSelfRequest        = invalid("you cannot send a friend request to yourself")
	ErrAlreadyFriends     = invalid("you are already friends")
	ErrRequestAlreadySent = invalid("friend request already sent")
	ErrNoPendingRequest   = invalid("no pending friend request")
	ErrNotFriends         = invalid("you are not friends")
	ErrEmptyGroupName     = invalid("group name cannot be empty")
	ErrNoMembers          = invalid("a group needs at least one other member")
	ErrNotFriendOfActor   = invalid("you can only add friends to a group")
	ErrNotParticipant     = invalid("you are not a member of this group")
	ErrNoNewMembers       = invalid("everyone is already in the group")
	ErrInvalidPicture     = invalid("picture must be an http or https URL")
)

var (
	ErrUserNotFound  = errors.New("social: user not found")
	ErrGroupNotFound = errors.New("social: group not found")
	// ErrConflict is returned when every attempt lost a race with another writer.
	ErrConflict = errors.New("social: concurrent update, try again")
)

// IsValidation reports whether err is a request the actor can fix.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
