package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces the redis keys.
const DefaultPrefix = "autoapply"

// Redis keeps one set of job IDs and one hash per job for every board.
type Redis struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to addr and checks the connection.
func OpenRedis(ctx context.Context, addr string, db int, prefix string) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) boardsKey() string { return r.prefix + ":boards" }

func (r *Redis) appliedKey(board string) string { return r.prefix + ":applied:" + board }

func (r *Redis) jobKey(board, id string) string { return r.prefix + ":job:" + board + ":" + id }

func (r *Redis) Applied(ctx context.Context, board, jobID string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.appliedKey(board), jobID).Result()
	if err != nil {
		return false, fmt.Errorf("query applied job: %w", err)
	}
	return ok, nil
}

func (r *Redis) Record(ctx context.Context, e Entry) error {
	if e.AppliedAt.IsZero() {
		e.AppliedAt = time.Now()
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.boardsKey(), e.Board)
		pipe.SAdd(ctx, r.appliedKey(e.Board), e.JobID)
		pipe.HSet(ctx, r.jobKey(e.Board, e.JobID), map[string]any{
			"title":      e.Title,
			"company":    e.Company,
			"url":        e.URL,
			"domain":     e.Domain,
			"status":     e.Status,
			"run_id":     e.RunID,
			"applied_at": e.AppliedAt.UnixMilli(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("record applied job: %w", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, board string) ([]Entry, error) {
	boards := []string{board}
	if board == "" {
		var err error
		if boards, err = r.client.SMembers(ctx, r.boardsKey()).Result(); err != nil {
			return nil, fmt.Errorf("list boards: %w", err)
		}
	}

	var entries []Entry
	for _, b := range boards {
		ids, err := r.client.SMembers(ctx, r.appliedKey(b)).Result()
		if err != nil {
			return nil, fmt.Errorf("list applied jobs of %s: %w", b, err)
		}
		for _, id := range ids {
			fields, err := r.client.HGetAll(ctx, r.jobKey(b, id)).Result()
			if err != nil {
				return nil, fmt.Errorf("read job %s: %w", id, err)
			}
			at, _ := strconv.ParseInt(fields["applied_at"], 10, 64)
			entries = append(entries, Entry{
				Board:     b,
				JobID:     id,
				Title:     fields["title"],
				Company:   fields["company"],
				URL:       fields["url"],
				Domain:    fields["domain"],
				Status:    fields["status"],
				RunID:     fields["run_id"],
				AppliedAt: time.UnixMilli(at),
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AppliedAt.After(entries[j].AppliedAt)
	})
	return entries, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
