package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/knowledgebase/internal/domain"
)

type fakeStore struct {
	containers      map[string]domain.Container
	folders         map[string][]domain.Folder
	documents       map[string]domain.Document
	deleteContainer error
	createErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		containers: make(map[string]domain.Container),
		folders:    make(map[string][]domain.Folder),
		documents:  make(map[string]domain.Document),
	}
}

func (f *fakeStore) CreateContainer(_ context.Context, name, description string) (domain.Container, error) {
	if f.createErr != nil {
		return domain.Container{}, f.createErr
	}
	c := domain.Container{ID: "c-" + name, Name: name, Description: description}
	f.containers[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetContainer(_ context.Context, id string) (domain.Container, error) {
	c, ok := f.containers[id]
	if !ok {
		return domain.Container{}, errors.New("store: not found")
	}
	return c, nil
}

func (f *fakeStore) ListContainers(_ context.Context) ([]domain.Container, error) {
	out := make([]domain.Container, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) DeleteContainer(_ context.Context, id string) error {
	if f.deleteContainer != nil {
		return f.deleteContainer
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeStore) CreateFolder(_ context.Context, containerID, path string) (domain.Folder, error) {
	folder := domain.Folder{ID: "f-" + path, ContainerID: containerID, Path: domain.NormalizeFolderPath(path)}
	f.folders[containerID] = append(f.folders[containerID], folder)
	return folder, nil
}

func (f *fakeStore) ListFolders(_ context.Context, containerID string) ([]domain.Folder, error) {
	return f.folders[containerID], nil
}

func (f *fakeStore) DeleteFolderCascade(_ context.Context, containerID, path string) error {
	normalized := domain.NormalizeFolderPath(path)
	kept := f.folders[containerID][:0]
	for _, folder := range f.folders[containerID] {
		if folder.Path == normalized || len(folder.Path) > len(normalized) && folder.Path[:len(normalized)] == normalized {
			continue
		}
		kept = append(kept, folder)
	}
	f.folders[containerID] = kept

	for id, doc := range f.documents {
		if doc.ContainerID == containerID && len(doc.Path) >= len(normalized) && doc.Path[:len(normalized)] == normalized {
			delete(f.documents, id)
		}
	}
	return nil
}

func (f *fakeStore) FolderExists(_ context.Context, containerID, path string) (bool, error) {
	normalized := domain.NormalizeFolderPath(path)
	for _, folder := range f.folders[containerID] {
		if folder.Path == normalized {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListDocuments(_ context.Context, containerID, pathPrefix string) ([]domain.Document, error) {
	var out []domain.Document
	for _, doc := range f.documents {
		if doc.ContainerID == containerID && (pathPrefix == "" || (len(doc.Path) >= len(pathPrefix) && doc.Path[:len(pathPrefix)] == pathPrefix)) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (domain.Document, error) {
	doc, ok := f.documents[id]
	if !ok {
		return domain.Document{}, errors.New("store: not found")
	}
	return doc, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, id string) error {
	if _, ok := f.documents[id]; !ok {
		return errors.New("store: not found")
	}
	delete(f.documents, id)
	return nil
}

type fakeContentStore struct {
	deleted []string
	failOn  map[string]bool
}

func (f *fakeContentStore) Delete(_ context.Context, path string) error {
	if f.failOn[path] {
		return errors.New("blob delete failed")
	}
	f.deleted = append(f.deleted, path)
	return nil
}

func TestCreateContainerBootstrapsRootFolder(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakeContentStore{})

	c, err := svc.CreateContainer(context.Background(), "docs", "documentation")
	require.NoError(t, err)

	folders, err := svc.ListFolders(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "/", folders[0].Path)
}

func TestDeleteFolderCascadesDocumentsAndBlobs(t *testing.T) {
	store := newFakeStore()
	store.folders["c1"] = []domain.Folder{{Path: "/"}, {Path: "/reports/"}}
	store.documents["d1"] = domain.Document{ID: "d1", ContainerID: "c1", Path: "/reports/q1.pdf"}
	store.documents["d2"] = domain.Document{ID: "d2", ContainerID: "c1", Path: "/reports/q2.pdf"}
	store.documents["d3"] = domain.Document{ID: "d3", ContainerID: "c1", Path: "/other.txt"}
	content := &fakeContentStore{}
	svc := New(store, content)

	err := svc.DeleteFolder(context.Background(), "c1", "/reports")
	require.NoError(t, err)

	_, ok := store.documents["d1"]
	assert.False(t, ok)
	_, ok = store.documents["d3"]
	assert.True(t, ok, "document outside the folder must survive")
	assert.ElementsMatch(t, []string{"/reports/q1.pdf", "/reports/q2.pdf"}, content.deleted)
}

func TestDeleteFolderJoinsBlobDeleteErrorsWithoutBlockingCascade(t *testing.T) {
	store := newFakeStore()
	store.folders["c1"] = []domain.Folder{{Path: "/"}, {Path: "/reports/"}}
	store.documents["d1"] = domain.Document{ID: "d1", ContainerID: "c1", Path: "/reports/q1.pdf"}
	content := &fakeContentStore{failOn: map[string]bool{"/reports/q1.pdf": true}}
	svc := New(store, content)

	err := svc.DeleteFolder(context.Background(), "c1", "/reports")
	require.Error(t, err)
	_, ok := store.documents["d1"]
	assert.False(t, ok, "row cascade must proceed even if blob deletion fails")
}

func TestDeleteDocumentRemovesRowAndBlob(t *testing.T) {
	store := newFakeStore()
	store.documents["d1"] = domain.Document{ID: "d1", ContainerID: "c1", Path: "/a.txt"}
	content := &fakeContentStore{}
	svc := New(store, content)

	err := svc.DeleteDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Contains(t, content.deleted, "/a.txt")
	_, err = svc.GetDocument(context.Background(), "d1")
	assert.Error(t, err)
}

func TestDeleteContainerPropagatesNotEmptyError(t *testing.T) {
	store := newFakeStore()
	store.deleteContainer = errors.New("store: container is not empty")
	svc := New(store, &fakeContentStore{})

	err := svc.DeleteContainer(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not empty")
}
