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
	"bytes"
	"crypto/subtle"
	"encoding/csv"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/fernet/fernet-go"
)

// This type matches HTTP basic auth credentials against a user records
// file, exchanging them for a User with an authorization level. The file
// is fernet-encrypted and maintained by the operator; it is reread
// periodically so users can be added or removed without a restart.
type Authenticator struct {
	userForName    map[string]userRecord
	TimeOfLastRead time.Time
	RereadInterval time.Duration
	UserFile       string
	Secret         string
}

type userRecord struct {
	password string
	level    AuthLevel
}

const (
	// how often to reread the user records file
	defaultRereadInterval = time.Minute
	// accept files encrypted up to a year ago
	userFileTTL = time.Hour * 24 * 365
)

// test user records
var testUserForName = make(map[string]userRecord)

// Creates a new authenticator by reading a user records file and
// decrypting it with a base64-encoded fernet key.
func NewAuthenticator(userFile, secret string) (*Authenticator, error) {
	a := Authenticator{
		RereadInterval: defaultRereadInterval,
		UserFile:       userFile,
		Secret:         secret,
	}
	if err := a.readUserFile(); err != nil {
		return nil, err
	}
	return &a, nil
}

// given basic auth credentials, returns the matching User or an error;
// a wrong password and an unknown username are indistinguishable
func (a *Authenticator) CheckUser(username, password string) (User, error) {
	if time.Since(a.TimeOfLastRead) > a.RereadInterval {
		if err := a.readUserFile(); err != nil {
			return User{}, err
		}
	}

	record, found := a.userForName[username]
	if !found {
		record, found = testUserForName[username]
	}
	if found && subtle.ConstantTimeCompare(
		[]byte(record.password), []byte(password)) == 1 {
		return User{Username: username, Level: record.level}, nil
	}
	return User{}, errors.New("invalid credentials")
}

// Adds a user record for testing
func InjectTestUser(username, password string, level AuthLevel) {
	testUserForName[username] = userRecord{password: password, level: level}
}

func (a *Authenticator) readUserFile() error {
	// with no secret, no file is read and only injected test users can
	// authenticate
	if a.Secret == "" {
		a.userForName = make(map[string]userRecord)
		a.TimeOfLastRead = time.Now()
		slog.Debug("No secret provided; skipping user records file read")
		return nil
	}

	key, err := fernet.DecodeKey(a.Secret)
	if err != nil {
		return err
	}

	cipherText, err := os.ReadFile(a.UserFile)
	if err != nil {
		return err
	}

	plaintext := fernet.VerifyAndDecrypt(cipherText, userFileTTL, []*fernet.Key{key})
	if plaintext == nil {
		return errors.New("couldn't decrypt user records file: invalid secret")
	}

	// the plaintext content is a tab-delimited file with records like so:
	// Username\tPassword\tLevel
	reader := csv.NewReader(bytes.NewReader(plaintext))
	reader.Comma = '\t'
	reader.Comment = '#'
	reader.FieldsPerRecord = 3

	records, err := reader.ReadAll()
	if err != nil {
		return err
	}

	userRecords := make(map[string]userRecord)
	for _, record := range records {
		level, err := ParseAuthLevel(record[2])
		if err != nil {
			return err
		}
		userRecords[record[0]] = userRecord{
			password: record[1],
			level:    level,
		}
	}

	a.userForName = userRecords
	a.TimeOfLastRead = time.Now()

	return nil
}
