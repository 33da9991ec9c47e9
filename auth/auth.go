// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package auth

import (
	"fmt"
	"strings"
)

// The level of authorization a user holds. Levels are ordered: a user
// at a given level may do anything a lower level allows.
type AuthLevel int

const (
	LevelNone AuthLevel = iota
	// can read from the databases and stores, but not write
	LevelReadOnly
	// can additionally report status changes for registered transfers
	LevelCallback
	// can additionally stage and commit new files
	LevelReadAppend
	// can additionally modify existing records
	LevelReadWrite
	// can do anything, including clearing recorded errors
	LevelAdmin
)

var levelNames = map[AuthLevel]string{
	LevelNone:       "NONE",
	LevelReadOnly:   "READONLY",
	LevelCallback:   "CALLBACK",
	LevelReadAppend: "READAPPEND",
	LevelReadWrite:  "READWRITE",
	LevelAdmin:      "ADMIN",
}

func (l AuthLevel) String() string {
	if name, found := levelNames[l]; found {
		return name
	}
	return "NONE"
}

// parses an authorization level from its name (case-insensitive)
func ParseAuthLevel(name string) (AuthLevel, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for level, levelName := range levelNames {
		if levelName == upper {
			return level, nil
		}
	}
	return LevelNone, fmt.Errorf("invalid authorization level: %s", name)
}

// true if the level satisfies the given requirement
func (l AuthLevel) AtLeast(required AuthLevel) bool {
	return l >= required
}

// A record identifying an authenticated caller, either a human operator
// or a peer librarian checking in about its transfers.
type User struct {
	// the name the user authenticates as
	Username string
	// the user's authorization level
	Level AuthLevel
}
