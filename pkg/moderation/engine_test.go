// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package moderation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/pronto"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/store"
)

// fakeModBackend records every call and serves canned invites.
type fakeModBackend struct {
	mu             sync.Mutex
	invites        []pronto.Invite
	listErr        error
	deleteErrCodes map[string]error

	kicked   [][]int64
	added    [][]int64
	deleted  []string
	messages []string
	msgRooms []int64
}

func (f *fakeModBackend) KickUsers(_ context.Context, _ int64, userIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, append([]int64(nil), userIDs...))
	return nil
}

func (f *fakeModBackend) AddMembers(_ context.Context, _ int64, userIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, append([]int64(nil), userIDs...))
	return nil
}

func (f *fakeModBackend) ListInvites(_ context.Context, _ int64) ([]pronto.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]pronto.Invite(nil), f.invites...), nil
}

func (f *fakeModBackend) DeleteInvite(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErrCodes[code]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, code)
	return nil
}

func (f *fakeModBackend) SendMessage(_ context.Context, text string, bubbleID int64, _ []string) (*pronto.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	f.msgRooms = append(f.msgRooms, bubbleID)
	return &pronto.MessageRef{}, nil
}

func (f *fakeModBackend) kickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.kicked)
}

// memBanStore records each persisted snapshot.
type memBanStore struct {
	mu    sync.Mutex
	saves [][]int64
}

func (s *memBanStore) Save(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, append([]int64(nil), ids...))
	return nil
}

func (s *memBanStore) last() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil
	}
	return s.saves[len(s.saves)-1]
}

type memCounterStore struct {
	mu    sync.Mutex
	saves [][]store.InviteCounter
}

func (s *memCounterStore) Save(counters []store.InviteCounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, append([]store.InviteCounter(nil), counters...))
	return nil
}

func (s *memCounterStore) last() []store.InviteCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil
	}
	return s.saves[len(s.saves)-1]
}

func newTestEngine(backend *fakeModBackend, threshold int, bans []int64, counters []store.InviteCounter) (*Engine, *memBanStore, *memCounterStore) {
	banStore := &memBanStore{}
	counterStore := &memCounterStore{}
	e := NewEngine(backend, banStore, counterStore, 3832006, 4120253, threshold, bans, counters, zerolog.Nop())
	return e, banStore, counterStore
}

func TestEngine_RejoinOfNonBannedUserIsNoOp(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{invites: []pronto.Invite{{Code: "abc", UserID: 7}}}
	e, banStore, counterStore := newTestEngine(backend, 5, nil, nil)

	e.OnUserRejoinDetected(context.Background(), 42)

	if backend.kickCount() != 0 || len(backend.deleted) != 0 {
		t.Errorf("non-banned rejoin touched the backend: kicks=%v deletes=%v", backend.kicked, backend.deleted)
	}
	if len(banStore.saves) != 0 || len(counterStore.saves) != 0 {
		t.Error("non-banned rejoin persisted state")
	}
}

func TestEngine_RejoinKicksAndRevokesInvites(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{invites: []pronto.Invite{
		{Code: "aaa", UserID: 10},
		{Code: "bbb", UserID: 11},
	}}
	e, _, counterStore := newTestEngine(backend, 5, []int64{42}, nil)

	e.OnUserRejoinDetected(context.Background(), 42)

	if got := backend.kicked; len(got) != 1 || got[0][0] != 42 {
		t.Errorf("kicks: %v, want one kick of 42", got)
	}
	if !reflect.DeepEqual(backend.deleted, []string{"aaa", "bbb"}) {
		t.Errorf("deleted invites: %v", backend.deleted)
	}
	want := []store.InviteCounter{{UserID: 10, Count: 1}, {UserID: 11, Count: 1}}
	if !reflect.DeepEqual(counterStore.last(), want) {
		t.Errorf("counters: %v, want %v", counterStore.last(), want)
	}
}

func TestEngine_RejoinChargesCreatorOncePerBatch(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{invites: []pronto.Invite{
		{Code: "aaa", UserID: 10},
		{Code: "bbb", UserID: 10},
		{Code: "ccc", UserID: 10},
	}}
	e, _, counterStore := newTestEngine(backend, 5, []int64{42}, nil)

	e.OnUserRejoinDetected(context.Background(), 42)

	if len(backend.deleted) != 3 {
		t.Errorf("deleted %d invites, want 3", len(backend.deleted))
	}
	want := []store.InviteCounter{{UserID: 10, Count: 1}}
	if !reflect.DeepEqual(counterStore.last(), want) {
		t.Errorf("counters: %v, want %v", counterStore.last(), want)
	}
}

func TestEngine_InviteDeleteFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{
		invites: []pronto.Invite{
			{Code: "aaa", UserID: 10},
			{Code: "bbb", UserID: 11},
		},
		deleteErrCodes: map[string]error{"aaa": errors.New("gone")},
	}
	e, _, counterStore := newTestEngine(backend, 5, []int64{42}, nil)

	e.OnUserRejoinDetected(context.Background(), 42)

	if !reflect.DeepEqual(backend.deleted, []string{"bbb"}) {
		t.Errorf("deleted invites: %v, want [bbb]", backend.deleted)
	}
	// Both creators still get charged; revocation failure is independent.
	want := []store.InviteCounter{{UserID: 10, Count: 1}, {UserID: 11, Count: 1}}
	if !reflect.DeepEqual(counterStore.last(), want) {
		t.Errorf("counters: %v, want %v", counterStore.last(), want)
	}
}

func TestEngine_InviterCrossingThresholdIsBanned(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{invites: []pronto.Invite{{Code: "aaa", UserID: 10}}}
	e, banStore, _ := newTestEngine(backend, 2, []int64{42}, []store.InviteCounter{{UserID: 10, Count: 1}})

	e.OnUserRejoinDetected(context.Background(), 42)

	if !e.IsBanned(10) {
		t.Fatal("creator at threshold not banned")
	}
	if !reflect.DeepEqual(banStore.last(), []int64{42, 10}) {
		t.Errorf("persisted bans: %v, want [42 10]", banStore.last())
	}
	// Kicks: the rejoining user, then the newly banned creator.
	if got := backend.kicked; len(got) != 2 || got[1][0] != 10 {
		t.Errorf("kicks: %v", got)
	}
	wantNotice := "<@10> has made invite links after a banned user rejoined 2 times, so they are now banned."
	if len(backend.messages) != 1 || backend.messages[0] != wantNotice {
		t.Errorf("oversight notice: %v", backend.messages)
	}
	if backend.msgRooms[0] != 4120253 {
		t.Errorf("notice sent to bubble %d, want admin bubble", backend.msgRooms[0])
	}
}

func TestEngine_BannedInviterStopsAccruingOffenses(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{invites: []pronto.Invite{{Code: "aaa", UserID: 10}}}
	e, banStore, counterStore := newTestEngine(backend, 2, []int64{42, 10}, []store.InviteCounter{{UserID: 10, Count: 2}})

	e.OnUserRejoinDetected(context.Background(), 42)

	if len(counterStore.saves) != 0 {
		t.Errorf("banned creator charged again: %v", counterStore.saves)
	}
	if len(banStore.saves) != 0 {
		t.Errorf("ban list rewritten for an already banned creator: %v", banStore.saves)
	}
	if len(backend.messages) != 0 {
		t.Errorf("duplicate oversight notice: %v", backend.messages)
	}
}

// TestEngine_ConcurrentRejoinsBanThresholdOnce drives many rejoin checks in
// parallel and verifies the creator is banned exactly once with monotonic
// counters.
func TestEngine_ConcurrentRejoinsBanThresholdOnce(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{invites: []pronto.Invite{{Code: "aaa", UserID: 10}}}
	e, banStore, _ := newTestEngine(backend, 3, []int64{42}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.OnUserRejoinDetected(context.Background(), 42)
		}()
	}
	wg.Wait()

	if !e.IsBanned(10) {
		t.Fatal("creator never banned")
	}
	bans := banStore.last()
	count := 0
	for _, id := range bans {
		if id == 10 {
			count++
		}
	}
	if count != 1 {
		t.Errorf("creator appears %d times in ban list %v, want once", count, bans)
	}
	if len(backend.messages) != 1 {
		t.Errorf("oversight notices: %d, want exactly 1", len(backend.messages))
	}
}

func TestEngine_BanIsIdempotent(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{}
	e, banStore, _ := newTestEngine(backend, 5, nil, nil)
	ctx := context.Background()

	if err := e.Ban(ctx, 7); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if err := e.Ban(ctx, 7); err != nil {
		t.Fatalf("Ban again: %v", err)
	}

	if !reflect.DeepEqual(banStore.last(), []int64{7}) {
		t.Errorf("persisted bans: %v, want [7]", banStore.last())
	}
	if len(banStore.saves) != 1 {
		t.Errorf("ban list persisted %d times, want 1", len(banStore.saves))
	}
	// The user is kicked on both calls regardless.
	if backend.kickCount() != 2 {
		t.Errorf("kicks: %d, want 2", backend.kickCount())
	}
}

func TestEngine_UnbanRestoresMembership(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{}
	e, banStore, _ := newTestEngine(backend, 5, []int64{7, 8}, nil)

	if err := e.Unban(context.Background(), 7); err != nil {
		t.Fatalf("Unban: %v", err)
	}

	if e.IsBanned(7) {
		t.Error("user still banned after Unban")
	}
	if !reflect.DeepEqual(banStore.last(), []int64{8}) {
		t.Errorf("persisted bans: %v, want [8]", banStore.last())
	}
	if len(backend.added) != 1 || backend.added[0][0] != 7 {
		t.Errorf("re-added members: %v", backend.added)
	}
}

func TestEngine_UnbanOfUnknownUserIsNoOp(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{}
	e, banStore, _ := newTestEngine(backend, 5, []int64{8}, nil)

	if err := e.Unban(context.Background(), 999); err != nil {
		t.Fatalf("Unban: %v", err)
	}
	if len(banStore.saves) != 0 {
		t.Error("no-op unban rewrote the ban list")
	}
	if len(backend.added) != 0 {
		t.Errorf("no-op unban re-added members: %v", backend.added)
	}
}

func TestEngine_SeedBansDeduplicated(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{}
	e, banStore, _ := newTestEngine(backend, 5, []int64{7, 7, 8}, nil)

	if err := e.Ban(context.Background(), 9); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if !reflect.DeepEqual(banStore.last(), []int64{7, 8, 9}) {
		t.Errorf("persisted bans: %v, want [7 8 9]", banStore.last())
	}
}

func TestEngine_SweepDeletesEveryInvite(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{invites: []pronto.Invite{
		{Code: "aaa", UserID: 10},
		{Code: "bbb", UserID: 11},
		{Code: "ccc", UserID: 10},
	}}
	e, banStore, counterStore := newTestEngine(backend, 5, nil, nil)

	e.SweepInvites(context.Background())

	if !reflect.DeepEqual(backend.deleted, []string{"aaa", "bbb", "ccc"}) {
		t.Errorf("deleted invites: %v", backend.deleted)
	}
	// The sweep only revokes; creators are not charged and nobody is kicked.
	if backend.kickCount() != 0 || len(counterStore.saves) != 0 || len(banStore.saves) != 0 {
		t.Errorf("sweep mutated policy state: kicks=%v counters=%v bans=%v",
			backend.kicked, counterStore.saves, banStore.saves)
	}
}

func TestEngine_SweepDeleteFailureDoesNotAbort(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{
		invites: []pronto.Invite{
			{Code: "aaa", UserID: 10},
			{Code: "bbb", UserID: 11},
		},
		deleteErrCodes: map[string]error{"aaa": errors.New("gone")},
	}
	e, _, _ := newTestEngine(backend, 5, nil, nil)

	e.SweepInvites(context.Background())

	if !reflect.DeepEqual(backend.deleted, []string{"bbb"}) {
		t.Errorf("deleted invites: %v, want [bbb]", backend.deleted)
	}
}

func TestEngine_SweepListFailureIsNonFatal(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{listErr: errors.New("backend down")}
	e, _, _ := newTestEngine(backend, 5, nil, nil)

	e.SweepInvites(context.Background())

	if len(backend.deleted) != 0 {
		t.Errorf("deletes despite listing failure: %v", backend.deleted)
	}
}

func TestEngine_ListInvitesFailureStillKicks(t *testing.T) {
	t.Parallel()
	backend := &fakeModBackend{listErr: fmt.Errorf("backend down")}
	e, _, counterStore := newTestEngine(backend, 5, []int64{42}, nil)

	e.OnUserRejoinDetected(context.Background(), 42)

	if backend.kickCount() != 1 {
		t.Errorf("kicks: %d, want 1", backend.kickCount())
	}
	if len(counterStore.saves) != 0 {
		t.Error("counters persisted despite invite listing failure")
	}
}
