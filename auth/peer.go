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
	"errors"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
)

// Credentials for authenticating against a peer librarian are held at
// rest as a fernet token over the string "username:password". The token
// lives in the librarians table, so a leaked database dump does not
// expose peer credentials without the service secret.

// accept peer credentials encrypted up to ten years ago
const peerCredentialTTL = time.Hour * 24 * 365 * 10

// encrypts peer credentials with the given base64-encoded fernet key
func EncryptPeerCredentials(username, password, secret string) (string, error) {
	key, err := fernet.DecodeKey(secret)
	if err != nil {
		return "", err
	}
	token, err := fernet.EncryptAndSign(
		[]byte(username+":"+password), key)
	if err != nil {
		return "", err
	}
	return string(token), nil
}

// decrypts a peer credential token, returning the username and password
func DecryptPeerCredentials(token, secret string) (string, string, error) {
	key, err := fernet.DecodeKey(secret)
	if err != nil {
		return "", "", err
	}
	plaintext := fernet.VerifyAndDecrypt(
		[]byte(token), peerCredentialTTL, []*fernet.Key{key})
	if plaintext == nil {
		return "", "", errors.New("couldn't decrypt peer credentials: invalid secret")
	}
	username, password, found := strings.Cut(string(plaintext), ":")
	if !found {
		return "", "", errors.New("malformed peer credentials")
	}
	return username, password, nil
}
