package issuetracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightaudit/codescanner/internal/model"
)

func mkIssue(file string, line int, desc, snippet string) model.Issue {
	return model.Issue{FilePath: file, LineNumber: line, Description: desc, CodeSnippet: snippet}
}

func TestIngestAddsNewIssue(t *testing.T) {
	tr := New(0.8)
	newCount, resolvedCount := tr.Ingest([]string{"main.cpp"}, []model.Issue{
		mkIssue("main.cpp", 10, "heap allocation", "QApplication* app = new QApplication(argc, argv);"),
	})
	assert.Equal(t, 1, newCount)
	assert.Equal(t, 0, resolvedCount)
	assert.Len(t, tr.OpenIssues(), 1)
}

func TestIngestDeduplicatesAndUpdatesLine(t *testing.T) {
	tr := New(0.8)
	tr.Ingest([]string{"main.cpp"}, []model.Issue{
		mkIssue("main.cpp", 10, "heap allocation", "QApplication* app = new QApplication(argc, argv);"),
	})
	newCount, _ := tr.Ingest([]string{"main.cpp"}, []model.Issue{
		mkIssue("main.cpp", 12, "heap allocation", "QApplication* app = new QApplication(argc, argv);"),
	})
	assert.Equal(t, 0, newCount)
	open := tr.OpenIssues()
	require.Len(t, open, 1)
	assert.Equal(t, 12, open[0].LineNumber)
}

func TestFixApplied_ResolvesIssue(t *testing.T) {
	tr := New(0.8)
	tr.Ingest([]string{"main.cpp"}, []model.Issue{
		mkIssue("main.cpp", 10, "heap allocation", "QApplication* app = new QApplication(argc, argv);"),
	})
	newCount, resolvedCount := tr.Ingest([]string{"main.cpp"}, nil)
	assert.Equal(t, 0, newCount)
	assert.Equal(t, 1, resolvedCount)
	assert.Len(t, tr.OpenIssues(), 0)
	assert.Len(t, tr.ResolvedIssues(), 1)
}

func TestResolvedIssueNeverReopens(t *testing.T) {
	tr := New(0.8)
	tr.Ingest([]string{"main.cpp"}, []model.Issue{
		mkIssue("main.cpp", 10, "heap allocation", "QApplication* app = new QApplication(argc, argv);"),
	})
	tr.Ingest([]string{"main.cpp"}, nil) // resolves it
	require.Len(t, tr.ResolvedIssues(), 1)

	// The exact same issue reappears in a later scan.
	newCount, _ := tr.Ingest([]string{"main.cpp"}, []model.Issue{
		mkIssue("main.cpp", 10, "heap allocation", "QApplication* app = new QApplication(argc, argv);"),
	})
	assert.Equal(t, 1, newCount, "resolved issues must never reopen; a fresh OPEN issue is created instead")
	assert.Len(t, tr.OpenIssues(), 1)
	assert.Len(t, tr.ResolvedIssues(), 1)
}

func TestUnscannedFileNeverChangesStatus(t *testing.T) {
	tr := New(0.8)
	tr.Ingest([]string{"a.go", "b.go"}, []model.Issue{
		mkIssue("a.go", 1, "issue a", "code a"),
		mkIssue("b.go", 1, "issue b", "code b"),
	})
	// Only a.go is scanned this run and its issue is gone, so it
	// resolves; b.go was not scanned, so its issue must stay OPEN.
	tr.Ingest([]string{"a.go"}, nil)
	open := tr.OpenIssues()
	require.Len(t, open, 1)
	assert.Equal(t, "b.go", open[0].FilePath)
}

func TestIssuesByFileGroupsOpenBeforeResolved(t *testing.T) {
	tr := New(0.8)
	tr.Ingest([]string{"a.go"}, []model.Issue{
		mkIssue("a.go", 5, "first", "buf := make([]byte, n)"),
		mkIssue("a.go", 1, "second", "defer f.Close()"),
	})
	tr.Ingest([]string{"a.go"}, []model.Issue{
		mkIssue("a.go", 1, "second", "defer f.Close()"),
	})
	files, byFile := tr.IssuesByFile()
	require.Equal(t, []string{"a.go"}, files)
	issues := byFile["a.go"]
	require.Len(t, issues, 2)
	assert.Equal(t, model.IssueOpen, issues[0].Status)
	assert.Equal(t, model.IssueResolved, issues[1].Status)
}
