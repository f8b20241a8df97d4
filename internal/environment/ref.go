package environment

import (
	"errors"
	"fmt"
	"strings"
)

// Ref selects what to check out. At most one field is set; a zero Ref means
// the environment's configured branch.
type Ref struct {
	Branch string
	Tag    string
	Commit string
}

func (r Ref) IsZero() bool {
	return r.Branch == "" && r.Tag == "" && r.Commit == ""
}

func (r Ref) Validate() error {
	set := 0
	for _, v := range []string{r.Branch, r.Tag, r.Commit} {
		if v != "" {
			set++
		}
		if strings.HasPrefix(v, "-") {
			return fmt.Errorf("invalid ref %q", v)
		}
	}
	if set > 1 {
		return errors.New("only one of branch, tag or commit may be given")
	}
	return nil
}

// Kind is "branch", "tag", "commit" or "" for the zero Ref.
func (r Ref) Kind() string {
	switch {
	case r.Branch != "":
		return "branch"
	case r.Tag != "":
		return "tag"
	case r.Commit != "":
		return "commit"
	}
	return ""
}

func (r Ref) Name() string {
	switch {
	case r.Branch != "":
		return r.Branch
	case r.Tag != "":
		return r.Tag
	}
	return r.Commit
}

func (r Ref) String() string {
	if r.IsZero() {
		return "default branch"
	}
	return r.Kind() + " " + r.Name()
}

type SyncOptions struct {
	// SkipPull checks out a branch without fast-forwarding it to the remote.
	SkipPull bool
	// CloneOnly clones a missing checkout and leaves an existing one untouched.
	CloneOnly bool
}

// Revision identifies the commit the working tree is at.
type Revision struct {
	Short string
	Full  string
	Ref   Ref
	// Cloned is set when this sync created the checkout.
	Cloned bool
}
