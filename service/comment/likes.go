package comment

import (
	"encoding/json"
	"sort"

	"github.com/mikeydub/go-collab/service/persist"
)

// LikeSet is the set of users who liked a comment. A LikeSet is never modified in
// place: With and Without return a new set, so sets can be shared between trees.
type LikeSet struct {
	users map[persist.DBID]struct{}
}

func NewLikeSet(userIDs ...persist.DBID) LikeSet {
	if len(userIDs) == 0 {
		return LikeSet{}
	}
	users := make(map[persist.DBID]struct{}, len(userIDs))
	for _, id := range userIDs {
		users[id] = struct{}{}
	}
	return LikeSet{users: users}
}

func (l LikeSet) Has(userID persist.DBID) bool {
	_, ok := l.users[userID]
	return ok
}

func (l LikeSet) Len() int { return len(l.users) }

// With returns the set plus userID. If userID is already present the receiver is
// returned as-is.
func (l LikeSet) With(userID persist.DBID) LikeSet {
	if l.Has(userID) {
		return l
	}
	users := make(map[persist.DBID]struct{}, len(l.users)+1)
	for id := range l.users {
		users[id] = struct{}{}
	}
	users[userID] = struct{}{}
	return LikeSet{users: users}
}

// Without returns the set minus userID. If userID is absent the receiver is returned
// as-is.
func (l LikeSet) Without(userID persist.DBID) LikeSet {
	if !l.Has(userID) {
		return l
	}
	if len(l.users) == 1 {
		return LikeSet{}
	}
	users := make(map[persist.DBID]struct{}, len(l.users)-1)
	for id := range l.users {
		if id != userID {
			users[id] = struct{}{}
		}
	}
	return LikeSet{users: users}
}

// UserIDs returns the members in sorted order.
func (l LikeSet) UserIDs() []persist.DBID {
	ids := make([]persist.DBID, 0, len(l.users))
	for id := range l.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (l LikeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.UserIDs())
}

func (l *LikeSet) UnmarshalJSON(b []byte) error {
	var ids []persist.DBID
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	*l = NewLikeSet(ids...)
	return nil
}
