package models

// User represents a row in the "users" table and a document of the users
// store. Fields map 1-to-1 with columns; the id is assigned by the store.
//
// Password is kept in plaintext. That mirrors the stored field of the
// service this registry replaces and is a known deficiency.
type User struct {
	ID          int64  `json:"id"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

func (u User) EntityKey() int64 { return u.ID }

func (u User) WithKey(id int64) User {
	u.ID = id
	return u
}

func (u User) UniqueFields() map[string]string {
	return map[string]string{
		"email":        u.Email,
		"phone_number": u.PhoneNumber,
	}
}

func (u User) WithPassword(password string) User {
	u.Password = password
	return u
}

// UserParams is the request body for creating or replacing a user. Keeping
// input types separate from the stored model keeps clients from choosing ids.
type UserParams struct {
	FullName    string `json:"full_name" binding:"required,min=3"`
	Email       string `json:"email" binding:"required,email,emaildomain"`
	PhoneNumber string `json:"phone_number" binding:"required,phone"`
	Password    string `json:"password" binding:"required,min=8"`
}

// Entity converts the params into a User without an id.
func (p UserParams) Entity() User {
	return User{
		FullName:    p.FullName,
		Email:       p.Email,
		PhoneNumber: p.PhoneNumber,
		Password:    p.Password,
	}
}

// PasswordParams is the request body of a user's password update.
type PasswordParams struct {
	Password string `json:"password" binding:"required,min=8"`
}

func (p PasswordParams) NewPassword() string { return p.Password }
