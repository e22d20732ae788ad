package schema

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(AllModels()...))

	return db
}

func TestPasswordHashedOnSave(t *testing.T) {
	db := testDb(t)

	user := User{
		Id:       uuid.New(),
		Email:    "hash@mail.com",
		Password: []byte("plaintext_password"),
		IsActive: true,
	}
	require.NoError(t, db.Create(&user).Error)

	var stored User
	require.NoError(t, db.First(&stored, "id = ?", user.Id).Error)

	assert.NotEqual(t, []byte("plaintext_password"), stored.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword(stored.Password, []byte("plaintext_password")))
}

func TestPasswordNotDoubleHashed(t *testing.T) {
	db := testDb(t)

	user := User{
		Id:       uuid.New(),
		Email:    "double@mail.com",
		Password: []byte("first_password"),
		IsActive: true,
	}
	require.NoError(t, db.Create(&user).Error)

	hashed := user.Password

	// Saving the row again must leave the existing hash untouched.
	user.FirstName = "renamed"
	require.NoError(t, db.Save(&user).Error)

	var stored User
	require.NoError(t, db.First(&stored, "id = ?", user.Id).Error)
	assert.Equal(t, hashed, stored.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword(stored.Password, []byte("first_password")))
}

func TestEmptyPasswordAllowed(t *testing.T) {
	db := testDb(t)

	// SSO users have no local password.
	user := User{Id: uuid.New(), Email: "sso@mail.com", IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	var stored User
	require.NoError(t, db.First(&stored, "id = ?", user.Id).Error)
	assert.Empty(t, stored.Password)
}

func TestUniqueConstraints(t *testing.T) {
	db := testDb(t)

	user := User{Id: uuid.New(), Email: "unique@mail.com", IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	dup := User{Id: uuid.New(), Email: "unique@mail.com", IsActive: true}
	assert.Error(t, db.Create(&dup).Error, "duplicate emails must be rejected")

	project := Project{
		Id: uuid.New(), Key: "UNIQ", Name: "first", Status: ProjectPlanning,
		Visibility: VisibilityPrivate, OwnerId: user.Id,
	}
	require.NoError(t, db.Create(&project).Error)

	dupProject := Project{
		Id: uuid.New(), Key: "UNIQ", Name: "second", Status: ProjectPlanning,
		Visibility: VisibilityPrivate, OwnerId: user.Id,
	}
	assert.Error(t, db.Create(&dupProject).Error, "duplicate project keys must be rejected")
}

func TestSerializedColumnsRoundTrip(t *testing.T) {
	db := testDb(t)

	user := User{Id: uuid.New(), Email: "ser@mail.com", IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	project := Project{
		Id: uuid.New(), Key: "SER", Name: "serialized", Status: ProjectActive,
		Visibility: VisibilityPrivate, OwnerId: user.Id,
		Settings: ProjectSettings{SprintDurationWeeks: 3, StoryPointScale: []int{1, 2, 3}},
	}
	require.NoError(t, db.Create(&project).Error)

	task := Task{
		Id: uuid.New(), ProjectId: project.Id, Key: "SER-1", Title: "with extras",
		Type: TaskTypeTask, Priority: PriorityMedium, Status: TaskBacklog,
		ReporterId: user.Id,
		Labels:     []string{"backend", "urgent"},
		Dependencies: []TaskDependency{
			{TaskId: uuid.New(), Type: DepBlocks},
		},
		Watchers: []uuid.UUID{user.Id},
	}
	require.NoError(t, db.Create(&task).Error)

	var storedProject Project
	require.NoError(t, db.First(&storedProject, "id = ?", project.Id).Error)
	assert.Equal(t, 3, storedProject.Settings.SprintDurationWeeks)

	var storedTask Task
	require.NoError(t, db.First(&storedTask, "id = ?", task.Id).Error)
	assert.Equal(t, []string{"backend", "urgent"}, storedTask.Labels)
	require.Len(t, storedTask.Dependencies, 1)
	assert.Equal(t, DepBlocks, storedTask.Dependencies[0].Type)
	assert.Equal(t, []uuid.UUID{user.Id}, storedTask.Watchers)
}

func TestGetUserWithRoles(t *testing.T) {
	db := testDb(t)

	role := Role{Id: uuid.New(), Name: "some_role", IsActive: true, IsSystem: true}
	require.NoError(t, db.Create(&role).Error)

	user := User{Id: uuid.New(), Email: "roles@mail.com", IsActive: true}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Model(&user).Association("Roles").Append(&role))

	loaded, err := GetUserWithRoles(user.Id, db)
	require.NoError(t, err)
	require.Len(t, loaded.Roles, 1)
	assert.Equal(t, "some_role", loaded.Roles[0].Name)

	_, err = GetUserWithRoles(uuid.New(), db)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
