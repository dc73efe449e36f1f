// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/verify/messaging"
	"github.com/bureau-foundation/verify/verification"
)

// HKDF info prefixes, as in the Matrix SAS method.
const (
	sasInfoPrefix = "MATRIX_KEY_VERIFICATION_SAS|"
	macInfoPrefix = "MATRIX_KEY_VERIFICATION_MAC|"
)

// sasEmoji is the Matrix SAS emoji table, indexed by six-bit value.
var sasEmoji = [64]verification.Emoji{
	{Symbol: "🐶", Description: "Dog"},
	{Symbol: "🐱", Description: "Cat"},
	{Symbol: "🦁", Description: "Lion"},
	{Symbol: "🐎", Description: "Horse"},
	{Symbol: "🦄", Description: "Unicorn"},
	{Symbol: "🐷", Description: "Pig"},
	{Symbol: "🐘", Description: "Elephant"},
	{Symbol: "🐰", Description: "Rabbit"},
	{Symbol: "🐼", Description: "Panda"},
	{Symbol: "🐓", Description: "Rooster"},
	{Symbol: "🐧", Description: "Penguin"},
	{Symbol: "🐢", Description: "Turtle"},
	{Symbol: "🐟", Description: "Fish"},
	{Symbol: "🐙", Description: "Octopus"},
	{Symbol: "🦋", Description: "Butterfly"},
	{Symbol: "🌷", Description: "Flower"},
	{Symbol: "🌳", Description: "Tree"},
	{Symbol: "🌵", Description: "Cactus"},
	{Symbol: "🍄", Description: "Mushroom"},
	{Symbol: "🌏", Description: "Globe"},
	{Symbol: "🌙", Description: "Moon"},
	{Symbol: "☁️", Description: "Cloud"},
	{Symbol: "🔥", Description: "Fire"},
	{Symbol: "🍌", Description: "Banana"},
	{Symbol: "🍎", Description: "Apple"},
	{Symbol: "🍓", Description: "Strawberry"},
	{Symbol: "🌽", Description: "Corn"},
	{Symbol: "🍕", Description: "Pizza"},
	{Symbol: "🎂", Description: "Cake"},
	{Symbol: "❤️", Description: "Heart"},
	{Symbol: "😀", Description: "Smiley"},
	{Symbol: "🤖", Description: "Robot"},
	{Symbol: "🎩", Description: "Hat"},
	{Symbol: "👓", Description: "Glasses"},
	{Symbol: "🔧", Description: "Spanner"},
	{Symbol: "🎅", Description: "Santa"},
	{Symbol: "👍", Description: "Thumbs Up"},
	{Symbol: "☂️", Description: "Umbrella"},
	{Symbol: "⌛", Description: "Hourglass"},
	{Symbol: "⏰", Description: "Clock"},
	{Symbol: "🎁", Description: "Gift"},
	{Symbol: "💡", Description: "Light Bulb"},
	{Symbol: "📕", Description: "Book"},
	{Symbol: "✏️", Description: "Pencil"},
	{Symbol: "📎", Description: "Paperclip"},
	{Symbol: "✂️", Description: "Scissors"},
	{Symbol: "🔒", Description: "Lock"},
	{Symbol: "🔑", Description: "Key"},
	{Symbol: "🔨", Description: "Hammer"},
	{Symbol: "☎️", Description: "Telephone"},
	{Symbol: "🏁", Description: "Flag"},
	{Symbol: "🚂", Description: "Train"},
	{Symbol: "🚲", Description: "Bicycle"},
	{Symbol: "✈️", Description: "Aeroplane"},
	{Symbol: "🚀", Description: "Rocket"},
	{Symbol: "🏆", Description: "Trophy"},
	{Symbol: "⚽", Description: "Ball"},
	{Symbol: "🎸", Description: "Guitar"},
	{Symbol: "🎺", Description: "Trumpet"},
	{Symbol: "🔔", Description: "Bell"},
	{Symbol: "⚓", Description: "Anchor"},
	{Symbol: "🎧", Description: "Headphones"},
	{Symbol: "📁", Description: "Folder"},
	{Symbol: "📌", Description: "Pin"},
}

// sasExchange tracks both sides of a SAS. Guarded by Homeserver.mu.
type sasExchange struct {
	starter *Device

	// private and public hold each side's ephemeral X25519 key, set
	// when that side accepts.
	private map[*Device][]byte
	public  map[*Device][]byte

	// macs holds the MAC each side sent with its confirmation.
	macs map[*Device][]byte
}

func newSasExchange(starter *Device) *sasExchange {
	return &sasExchange{
		starter: starter,
		private: make(map[*Device][]byte),
		public:  make(map[*Device][]byte),
		macs:    make(map[*Device][]byte),
	}
}

// newEphemeralKey returns an X25519 key pair.
func newEphemeralKey() (private, public []byte, err error) {
	private = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return nil, nil, fmt.Errorf("generating SAS key: %w", err)
	}
	public, err = curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving SAS public key: %w", err)
	}
	return private, public, nil
}

// sharedSecretLocked runs the key agreement from d's side.
func (f *flow) sharedSecretLocked(d *Device) ([]byte, error) {
	peer := f.peerLocked(d)
	return curve25519.X25519(f.sas.private[d], f.sas.public[peer])
}

// sasInfoLocked binds derived material to both devices, their keys
// and the flow, ordered by role so both sides agree.
func (f *flow) sasInfoLocked(prefix string) []byte {
	initiator, responder := f.initiator, f.responder
	info := prefix +
		initiator.userID.String() + "|" + initiator.deviceID.String() + "|" +
		base64.RawStdEncoding.EncodeToString(f.sas.public[initiator]) + "|" +
		responder.userID.String() + "|" + responder.deviceID.String() + "|" +
		base64.RawStdEncoding.EncodeToString(f.sas.public[responder]) + "|" +
		f.id
	return []byte(info)
}

// deriveLocked expands the shared secret seen from d with HKDF-SHA256.
func (f *flow) deriveLocked(d *Device, prefix string, size int) ([]byte, error) {
	secret, err := f.sharedSecretLocked(d)
	if err != nil {
		return nil, fmt.Errorf("SAS key agreement: %w", err)
	}
	derived := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, f.sasInfoLocked(prefix)), derived); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return derived, nil
}

// sasBytesLocked derives the six bytes both sides display.
func (f *flow) sasBytesLocked(d *Device) ([6]byte, error) {
	var out [6]byte
	derived, err := f.deriveLocked(d, sasInfoPrefix, len(out))
	if err != nil {
		return out, err
	}
	copy(out[:], derived)
	return out, nil
}

// macLocked is d's BLAKE3 MAC over its own device identity, keyed
// with a second HKDF output.
func (f *flow) macLocked(d *Device, subject *Device) ([]byte, error) {
	key, err := f.deriveLocked(d, macInfoPrefix, 32)
	if err != nil {
		return nil, err
	}
	hasher, err := blake3.NewKeyed(key)
	if err != nil {
		return nil, fmt.Errorf("BLAKE3 keyed hash initialization failed: %w", err)
	}
	hasher.Write([]byte(subject.userID.String() + "|" + subject.deviceID.String()))
	return hasher.Sum(nil), nil
}

// emojiFromBytes splits the first 42 bits into seven table indices.
func emojiFromBytes(b [6]byte) [7]verification.Emoji {
	var bits uint64
	for _, value := range b {
		bits = bits<<8 | uint64(value)
	}
	var emoji [7]verification.Emoji
	for index := range emoji {
		shift := 48 - 6*(index+1)
		emoji[index] = sasEmoji[(bits>>shift)&0x3f]
	}
	return emoji
}

// decimalsFromBytes splits the first 39 bits into three 13-bit numbers
// offset by 1000.
func decimalsFromBytes(b [6]byte) [3]uint16 {
	return [3]uint16{
		(uint16(b[0])<<5 | uint16(b[1])>>3) + 1000,
		(uint16(b[1]&0x07)<<10 | uint16(b[2])<<2 | uint16(b[3])>>6) + 1000,
		(uint16(b[3]&0x3f)<<7 | uint16(b[4])>>1) + 1000,
	}
}

// sasHandle is a device's view of the SAS of a flow.
type sasHandle struct {
	device *Device
	flow   *flow
}

var _ verification.Sas = (*sasHandle)(nil)

func (s *sasHandle) lock() func() {
	s.device.server.mu.Lock()
	return s.device.server.mu.Unlock
}

// Accept commits this side to the exchange and sends our key.
func (s *sasHandle) Accept(context.Context) error {
	defer s.lock()()
	h, f, d := s.device.server, s.flow, s.device
	if err := f.activeLocked(d); err != nil {
		return err
	}
	if _, accepted := f.sas.public[d]; accepted {
		return nil
	}
	private, public, err := newEphemeralKey()
	if err != nil {
		return err
	}
	f.sas.private[d] = private
	f.sas.public[d] = public

	eventType := messaging.EventTypeVerificationKey
	if d != f.sas.starter && len(f.sas.public) == 1 {
		eventType = messaging.EventTypeVerificationAccept
	}
	h.sendLocked(f, d, eventType, map[string]any{
		"key": base64.RawStdEncoding.EncodeToString(public),
	}, f.peerLocked(d))
	return nil
}

func (s *sasHandle) CanBePresented() bool {
	defer s.lock()()
	return s.presentableLocked()
}

func (s *sasHandle) Emoji() ([7]verification.Emoji, bool) {
	defer s.lock()()
	if s.device.server.decimalSas || !s.presentableLocked() {
		return [7]verification.Emoji{}, false
	}
	short, err := s.flow.sasBytesLocked(s.device)
	if err != nil {
		s.device.server.logger.Error("deriving SAS failed", "flow_id", s.flow.id, "error", err)
		return [7]verification.Emoji{}, false
	}
	return emojiFromBytes(short), true
}

func (s *sasHandle) Decimals() ([3]uint16, bool) {
	defer s.lock()()
	if !s.presentableLocked() {
		return [3]uint16{}, false
	}
	short, err := s.flow.sasBytesLocked(s.device)
	if err != nil {
		s.device.server.logger.Error("deriving SAS failed", "flow_id", s.flow.id, "error", err)
		return [3]uint16{}, false
	}
	return decimalsFromBytes(short), true
}

func (s *sasHandle) presentableLocked() bool {
	return s.flow.cancel == nil && len(s.flow.sas.public) == 2
}

// Confirm records that our user saw matching strings and sends our
// MAC. Once both sides confirmed, each MAC is checked against what the
// other side derives; a difference cancels the flow.
func (s *sasHandle) Confirm(context.Context) error {
	defer s.lock()()
	h, f, d := s.device.server, s.flow, s.device
	if err := f.activeLocked(d); err != nil {
		return err
	}
	if !s.presentableLocked() {
		return fmt.Errorf("confirming SAS of flow %s: %w", f.id, errNotReady)
	}
	if _, confirmed := f.sas.macs[d]; confirmed {
		return nil
	}
	mac, err := f.macLocked(d, d)
	if err != nil {
		return err
	}
	f.sas.macs[d] = mac
	h.sendLocked(f, d, messaging.EventTypeVerificationMac, map[string]any{
		"mac": base64.RawStdEncoding.EncodeToString(mac),
	}, f.peerLocked(d))

	if len(f.sas.macs) < 2 {
		return nil
	}
	peer := f.peerLocked(d)
	expected, err := f.macLocked(d, peer)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(expected, f.sas.macs[peer]) != 1 {
		h.cancelLocked(f, d, CancelKeyMismatch, "The MAC of the other device does not match.")
		return nil
	}
	h.finishLocked(f, d)
	return nil
}

func (s *sasHandle) Mismatch(context.Context) error {
	defer s.lock()()
	s.device.server.cancelLocked(s.flow, s.device, CancelMismatchedSas, "The short authentication strings do not match.")
	return nil
}

func (s *sasHandle) IsDone() bool {
	defer s.lock()()
	return s.flow.done
}

func (s *sasHandle) CancelInfo() *verification.CancelInfo {
	defer s.lock()()
	return s.flow.cancelInfoLocked(s.device)
}
