package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorktreeList(t *testing.T) {
	output := `worktree /home/dev/proj
HEAD abc123def456
branch refs/heads/main

worktree /home/dev/proj-feature
HEAD 789abc012def
branch refs/heads/feature/login

worktree /home/dev/proj-detached
HEAD fedcba987654
detached
`

	worktrees := parseWorktreeList(output)
	require.Len(t, worktrees, 3)

	assert.Equal(t, "/home/dev/proj", worktrees[0].Path)
	assert.Equal(t, "main", worktrees[0].Branch)
	assert.Equal(t, "abc123def456", worktrees[0].Commit)

	assert.Equal(t, "feature/login", worktrees[1].Branch)

	assert.Equal(t, "", worktrees[2].Branch)
	assert.False(t, worktrees[2].Bare)
}

func TestParseWorktreeListBare(t *testing.T) {
	output := "worktree /srv/repo.git\nbare\n"
	worktrees := parseWorktreeList(output)
	require.Len(t, worktrees, 1)
	assert.True(t, worktrees[0].Bare)
}

func TestParseWorktreeListEmpty(t *testing.T) {
	assert.Empty(t, parseWorktreeList(""))
}

// initTestRepo creates a real git repo with one commit, skipping if git is
// unavailable in the test environment.
func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("test\n"), 0644))
	run("add", ".")
	run("commit", "-m", "init")
	return dir
}

func TestIsGitRepo(t *testing.T) {
	dir := initTestRepo(t)
	assert.True(t, IsGitRepo(dir))
	assert.False(t, IsGitRepo(t.TempDir()))
}

func TestCurrentBranch(t *testing.T) {
	dir := initTestRepo(t)
	branch, err := CurrentBranch(dir)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestDirtyCount(t *testing.T) {
	dir := initTestRepo(t)

	count, err := DirtyCount(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0644))
	count, err = DirtyCount(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepoRoot(t *testing.T) {
	dir := initTestRepo(t)
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0755))

	root, err := RepoRoot(sub)
	require.NoError(t, err)
	// Resolve symlinks for macOS /private/var temp dirs.
	expected, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, expected, got)
}
