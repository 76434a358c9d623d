package user

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// User is the directory entry used for addressing notifications. Access
// control never reads it; claims decide that.
type User struct {
	ID        string    `yaml:"id" json:"userId" dynamodbav:"userId"`
	Email     string    `yaml:"email" json:"email" dynamodbav:"email"`
	Name      string    `yaml:"name" json:"name" dynamodbav:"name"`
	Role      Role      `yaml:"role" json:"role" dynamodbav:"role"`
	CreatedAt time.Time `yaml:"created_at" json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updatedAt" dynamodbav:"updatedAt"`
}
