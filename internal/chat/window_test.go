package chat

import (
	"context"
	"fmt"
	"testing"
)

func TestWindowBuilder_Bound(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct{ n, limit int }{{0, 4}, {3, 4}, {4, 4}, {9, 4}, {5, 1}} {
		t.Run(fmt.Sprintf("n=%d_m=%d", tc.n, tc.limit), func(t *testing.T) {
			repo := NewRepo(openTestDB(t))
			convID := "01WINDOWTEST0000000000000" + fmt.Sprint(tc.n%10)

			for i := 0; i < tc.n; i++ {
				role := "user"
				if i%2 == 1 {
					role = "assistant"
				}
				if err := repo.InsertMessage(ctx, &Message{ConversationID: convID, Role: role, Content: fmt.Sprintf("m%d", i)}); err != nil {
					t.Fatalf("seed msg %d: %v", i, err)
				}
			}

			got, err := NewWindowBuilder(repo).Build(ctx, convID, "primer", tc.limit)
			if err != nil {
				t.Fatalf("build: %v", err)
			}

			want := min(tc.n, tc.limit)
			if len(got) != want+1 {
				t.Fatalf("expected %d entries, got %d", want+1, len(got))
			}
			if got[0].Role != "system" || got[0].Content != "primer" {
				t.Fatalf("expected system primer first, got %+v", got[0])
			}
			// chronological: the window ends with the newest message
			for i, m := range got[1:] {
				if exp := fmt.Sprintf("m%d", tc.n-want+i); m.Content != exp {
					t.Fatalf("position %d: expected %s, got %s", i, exp, m.Content)
				}
			}
		})
	}
}

func TestWindowBuilder_NoPrimer(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	if err := repo.InsertMessage(ctx, &Message{ConversationID: "c", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := NewWindowBuilder(repo).Build(ctx, "c", "   ", 5)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(got) != 1 || got[0].Role != "user" {
		t.Fatalf("unexpected window: %+v", got)
	}
}

func TestResolveMemoryLimit(t *testing.T) {
	three := 3
	zero := 0
	cases := []struct {
		override  *int
		assistant int
		platform  int
		want      int
	}{
		{&three, 8, 10, 3},
		{&zero, 8, 10, 8},
		{nil, 8, 10, 8},
		{nil, 0, 10, 10},
		{nil, 0, 0, PlatformMemoryLimit},
	}
	for _, c := range cases {
		if got := ResolveMemoryLimit(c.override, c.assistant, c.platform); got != c.want {
			t.Fatalf("ResolveMemoryLimit(%v, %d, %d) = %d, want %d", c.override, c.assistant, c.platform, got, c.want)
		}
	}
}

func TestPrimer(t *testing.T) {
	if got := Primer(" base ", nil); got != "base" {
		t.Fatalf("unexpected primer %q", got)
	}
	if got := Primer("", &Conversation{Style: "Concise"}); got != "Write in a concise style." {
		t.Fatalf("unexpected primer %q", got)
	}
}
