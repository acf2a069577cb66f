package models

// Customer is identified by a client-supplied customer_id. Deleting a
// customer also removes its accounts in the account service.
type Customer struct {
	CustomerID int64  `json:"customer_id"`
	Name       string `json:"name"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Age        int    `json:"age"`
	Password   string `json:"password"`
}

func (c Customer) EntityKey() int64 { return c.CustomerID }

func (c Customer) WithKey(id int64) Customer {
	c.CustomerID = id
	return c
}

func (c Customer) UniqueFields() map[string]string {
	return map[string]string{"email": c.Email}
}

func (c Customer) WithPassword(password string) Customer {
	c.Password = password
	return c
}

// CustomerParams is the request body for creating or replacing a customer.
// On replace the customer_id of the body is ignored in favour of the path.
type CustomerParams struct {
	CustomerID int64  `json:"customer_id" binding:"required,gt=0"`
	Name       string `json:"name" binding:"required"`
	FullName   string `json:"full_name" binding:"required,min=3"`
	Email      string `json:"email" binding:"required,email,emaildomain"`
	Age        int    `json:"age" binding:"required,adult"`
	Password   string `json:"password" binding:"required,min=8,letterdigit"`
}

func (p CustomerParams) Entity() Customer {
	return Customer{
		CustomerID: p.CustomerID,
		Name:       p.Name,
		FullName:   p.FullName,
		Email:      p.Email,
		Age:        p.Age,
		Password:   p.Password,
	}
}

// CustomerPasswordParams is the request body of a customer's password update.
// It applies the same rule as CustomerParams.
type CustomerPasswordParams struct {
	Password string `json:"password" binding:"required,min=8,letterdigit"`
}

func (p CustomerPasswordParams) NewPassword() string { return p.Password }
